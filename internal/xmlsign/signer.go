// Package xmlsign implements §4.6: XAdES-EPES enveloped signing of the UBL
// document, grounded on the teacher's C14N-based signer adapted to locate
// the reserved ExtensionContent structurally (the first empty
// ext:ExtensionContent under ext:UBLExtensions) rather than by a fixed
// position, since the builder and signer only need to agree that exactly
// one slot is left empty for the signature.
package xmlsign

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/tinto-dian/issuer/internal/domain"
)

const (
	namespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	namespaceXAdES     = "http://uri.etsi.org/01903/v1.3.2#"
	algC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	algRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	algSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	transformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	extNS = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
)

// Failure is the closed set of signing/verification failures (§4.6).
type Failure string

const (
	FailureKeystoreUnreadable       Failure = "KeystoreUnreadable"
	FailureAliasMissing             Failure = "AliasMissing"
	FailurePrivateKeyUnusableForRSA Failure = "PrivateKeyUnusableForRSA"
	FailureCanonicalizationFailed   Failure = "CanonicalizationFailed"
	FailureDigestMismatch           Failure = "DigestMismatch"
	FailureSignatureInvalid         Failure = "SignatureInvalid"
)

func fail(f Failure, err error, format string, args ...any) error {
	e := domain.NewCrypto(err, format, args...)
	e.Message = string(f) + ": " + e.Message
	return e
}

// Sign implements §4.6's algorithm: canonicalize, digest, sign SignedInfo,
// embed the certificate, and inject into the reserved ExtensionContent.
func Sign(xmlDoc []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlDoc) == 0 {
		return nil, fail(FailureCanonicalizationFailed, nil, "xmlsign: empty document")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fail(FailurePrivateKeyUnusableForRSA, nil, "xmlsign: certificate key is not RSA")
	}
	if len(cert.Certificate) == 0 {
		return nil, fail(FailureAliasMissing, nil, "xmlsign: certificate chain is empty")
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fail(FailureKeystoreUnreadable, err, "xmlsign: parsing certificate")
	}

	canonicalDoc, err := canonicalize(xmlDoc)
	if err != nil {
		return nil, fail(FailureCanonicalizationFailed, err, "xmlsign: canonicalizing document")
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	signedInfoXML := buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalize([]byte(signedInfoXML))
	if err != nil {
		return nil, fail(FailureCanonicalizationFailed, err, "xmlsign: canonicalizing SignedInfo")
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, fail(FailurePrivateKeyUnusableForRSA, err, "xmlsign: signing SignedInfo")
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)
	certDigest := sha256.Sum256(x509Cert.Raw)
	certDigestB64 := base64.StdEncoding.EncodeToString(certDigest[:])
	signingTime := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	signatureXML := buildFullSignature(
		signedInfoXML, signatureValueB64, certB64, signingTime,
		certDigestB64, x509Cert.Issuer.String(), x509Cert.SerialNumber.Text(16),
	)

	return injectSignature(xmlDoc, signatureXML)
}

// Verify is the inverse of Sign: it locates the lone ds:Signature, checks
// the reference digest against the canonicalized document with the
// signature removed, and verifies SignatureValue against the embedded
// certificate's public key.
func Verify(signedDoc []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedDoc); err != nil {
		return fail(FailureCanonicalizationFailed, err, "xmlsign: parsing signed document")
	}
	sigEl := findElement(doc.Root(), "Signature")
	if sigEl == nil {
		return fail(FailureSignatureInvalid, nil, "xmlsign: no ds:Signature element found")
	}

	certEl := findElement(sigEl, "X509Certificate")
	if certEl == nil {
		return fail(FailureSignatureInvalid, nil, "xmlsign: no X509Certificate found")
	}
	certDER, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
	if err != nil {
		return fail(FailureKeystoreUnreadable, err, "xmlsign: decoding embedded certificate")
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fail(FailureKeystoreUnreadable, err, "xmlsign: parsing embedded certificate")
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fail(FailurePrivateKeyUnusableForRSA, nil, "xmlsign: embedded certificate key is not RSA")
	}

	sigValueEl := findElement(sigEl, "SignatureValue")
	if sigValueEl == nil {
		return fail(FailureSignatureInvalid, nil, "xmlsign: no SignatureValue found")
	}
	sigValue, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigValueEl.Text()))
	if err != nil {
		return fail(FailureSignatureInvalid, err, "xmlsign: decoding signature value")
	}

	signedInfoEl := findElement(sigEl, "SignedInfo")
	if signedInfoEl == nil {
		return fail(FailureSignatureInvalid, nil, "xmlsign: no SignedInfo found")
	}
	signedInfoDoc := etree.NewDocument()
	signedInfoDoc.SetRoot(signedInfoEl.Copy())
	signedInfoBytes, err := signedInfoDoc.WriteToBytes()
	if err != nil {
		return fail(FailureCanonicalizationFailed, err, "xmlsign: serializing SignedInfo")
	}
	canonicalSignedInfo, err := canonicalize(signedInfoBytes)
	if err != nil {
		return fail(FailureCanonicalizationFailed, err, "xmlsign: canonicalizing SignedInfo")
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, signHash[:], sigValue); err != nil {
		return fail(FailureSignatureInvalid, err, "xmlsign: signature value does not verify")
	}

	digestValueEl := findElement(signedInfoEl, "DigestValue")
	if digestValueEl == nil {
		return fail(FailureSignatureInvalid, nil, "xmlsign: no DigestValue found")
	}
	expectedDigest, err := base64.StdEncoding.DecodeString(strings.TrimSpace(digestValueEl.Text()))
	if err != nil {
		return fail(FailureSignatureInvalid, err, "xmlsign: decoding digest value")
	}

	withoutSignature, err := removeElement(signedDoc, "Signature")
	if err != nil {
		return fail(FailureCanonicalizationFailed, err, "xmlsign: removing signature for reference digest")
	}
	canonicalDoc, err := canonicalize(withoutSignature)
	if err != nil {
		return fail(FailureCanonicalizationFailed, err, "xmlsign: canonicalizing document")
	}
	actualDigest := sha256.Sum256(canonicalDoc)
	if !bytes.Equal(actualDigest[:], expectedDigest) {
		return fail(FailureDigestMismatch, nil, "xmlsign: reference digest does not match document content")
	}
	return nil
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + namespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + algC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + algRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + transformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + algC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + algSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildFullSignature(signedInfoXML, signatureValueB64, certB64, signingTime, certDigestB64, issuerName, serialHex string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + namespaceDS + `" xmlns:xades="` + namespaceXAdES + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties>`)
	sb.WriteString(`<xades:SignedProperties Id="signed-props">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert><xades:CertDigest><ds:DigestMethod Algorithm="` + algSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigestB64 + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName><ds:X509SerialNumber>` + serialHex + `</ds:X509SerialNumber></xades:IssuerSerial></xades:Cert></xades:SigningCertificate>`)
	sb.WriteString(`<xades:SignaturePolicyIdentifier><xades:SignaturePolicyId><xades:SigPolicyId><xades:Identifier>https://facturaelectronica.dian.gov.co/politicadefirma/v2/politicadefirmav2.pdf</xades:Identifier></xades:SigPolicyId></xades:SignaturePolicyId></xades:SignaturePolicyIdentifier>`)
	sb.WriteString(`</xades:SignedSignatureProperties></xades:SignedProperties></xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// injectSignature locates ext:UBLExtensions, finds the first
// ext:ExtensionContent with no children (the reserved slot), and appends
// the ds:Signature as its single child.
func injectSignature(xmlDoc []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlDoc); err != nil {
		return nil, fail(FailureCanonicalizationFailed, err, "xmlsign: parsing document")
	}
	root := doc.Root()
	if root == nil {
		return nil, fail(FailureCanonicalizationFailed, nil, "xmlsign: document has no root")
	}

	ublExt := findElement(root, "UBLExtensions")
	if ublExt == nil {
		return nil, fail(FailureCanonicalizationFailed, nil, "xmlsign: no UBLExtensions found")
	}

	var reserved *etree.Element
	for _, ext := range ublExt.ChildElements() {
		if localName(ext.Tag) != "UBLExtension" {
			continue
		}
		for _, ec := range ext.ChildElements() {
			if localName(ec.Tag) != "ExtensionContent" {
				continue
			}
			if len(ec.ChildElements()) == 0 {
				reserved = ec
				break
			}
		}
		if reserved != nil {
			break
		}
	}
	if reserved == nil {
		return nil, fail(FailureCanonicalizationFailed, nil, "xmlsign: no empty reserved ExtensionContent found")
	}

	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fail(FailureCanonicalizationFailed, err, "xmlsign: parsing generated signature")
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		reserved.AddChild(sigRoot)
	}

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fail(FailureCanonicalizationFailed, err, "xmlsign: serializing signed document")
	}
	return out.Bytes(), nil
}

func removeElement(xmlDoc []byte, localTag string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlDoc); err != nil {
		return nil, err
	}
	el := findElement(doc.Root(), localTag)
	if el != nil && el.Parent() != nil {
		el.Parent().RemoveChild(el)
	}
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func findElement(el *etree.Element, localTag string) *etree.Element {
	if el == nil {
		return nil
	}
	if localName(el.Tag) == localTag {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findElement(child, localTag); found != nil {
			return found
		}
	}
	return nil
}

func localName(tag string) string {
	if i := strings.Index(tag, ":"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
