package keycustody

import (
	"context"
	"crypto/tls"

	"golang.org/x/crypto/pkcs12"

	"github.com/tinto-dian/issuer/internal/domain"
	"github.com/tinto-dian/issuer/internal/domain/entity"
)

// Decrypter recovers the plaintext of an issuer's encrypted certificate
// blob. MasterKey satisfies it via crypto.DecryptGCM over its own material.
type Decrypter interface {
	DecryptBlob(encrypted string) ([]byte, error)
}

// CertSource loads an issuer's signing keystore from its encrypted-at-rest
// PKCS#12 bundle (§4.6, SPEC_FULL §B), satisfying the orchestrator's
// CertSource port.
type CertSource struct {
	Decrypter Decrypter
	Password  string
}

// NewCertSource builds a CertSource decrypting blobs with master and
// opening the PKCS#12 bundle with the configured store password.
func NewCertSource(master Decrypter, password string) *CertSource {
	return &CertSource{Decrypter: master, Password: password}
}

// LoadCertificate decrypts issuer.EncryptedCertificateBlob and decodes it
// as a PKCS#12 keystore into a tls.Certificate ready for xmlsign.Sign.
func (c *CertSource) LoadCertificate(_ context.Context, issuer *entity.Issuer) (tls.Certificate, error) {
	pfxBytes, err := c.Decrypter.DecryptBlob(issuer.EncryptedCertificateBlob)
	if err != nil {
		return tls.Certificate{}, domain.NewCrypto(err, "decrypting issuer certificate blob")
	}

	privKey, cert, err := pkcs12.Decode(pfxBytes, c.Password)
	if err != nil {
		return tls.Certificate{}, domain.NewCrypto(err, "decoding PKCS#12 keystore for issuer %s", issuer.TaxID)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  privKey,
		Leaf:        cert,
	}, nil
}
