package xmlsign_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinto-dian/issuer/internal/xmlsign"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2" xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2" xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
<ext:UBLExtensions>
<ext:UBLExtension><ext:ExtensionContent></ext:ExtensionContent></ext:UBLExtension>
<ext:UBLExtension><ext:ExtensionContent><sts>present</sts></ext:ExtensionContent></ext:UBLExtension>
</ext:UBLExtensions>
<cbc:ID>SETP1</cbc:ID>
</Invoice>`

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(10, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestSignThenVerify_Succeeds(t *testing.T) {
	cert := selfSignedCert(t)
	signed, err := xmlsign.Sign([]byte(sampleDoc), cert)
	require.NoError(t, err)
	assert.Contains(t, string(signed), "ds:Signature")
	require.NoError(t, xmlsign.Verify(signed))
}

func TestVerify_TamperedDocumentFails(t *testing.T) {
	cert := selfSignedCert(t)
	signed, err := xmlsign.Sign([]byte(sampleDoc), cert)
	require.NoError(t, err)

	tampered := bytes.Replace(signed, []byte("SETP1"), []byte("SETP2"), 1)
	require.Error(t, xmlsign.Verify(tampered))
}

func TestSign_RejectsEmptyDocument(t *testing.T) {
	cert := selfSignedCert(t)
	_, err := xmlsign.Sign(nil, cert)
	require.Error(t, err)
}

func TestSign_RejectsNonRSAKey(t *testing.T) {
	_, err := xmlsign.Sign([]byte(sampleDoc), tls.Certificate{Certificate: [][]byte{{0}}, PrivateKey: "not-a-key"})
	require.Error(t, err)
}
