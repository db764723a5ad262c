package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ParseBirthCertificate parses a birth certificate given as DER or PEM and
// returns the DER bytes with the parsed certificate.
func ParseBirthCertificate(data []byte) ([]byte, *x509.Certificate, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, nil, fmt.Errorf("unexpected PEM block %q", block.Type)
		}
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return der, cert, nil
}

// CreateBirthCertificate issues a certificate for subjectKey with the given
// common name, signed by issuerKey under issuer. A nil issuer makes the
// certificate self-signed.
//
// Returns the DER encoded certificate.
func CreateBirthCertificate(cn string, subjectKey crypto.PublicKey, issuer *x509.Certificate, issuerKey crypto.Signer, validity time.Duration) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyAgreement,
		BasicConstraintsValid: true,
	}
	if issuer == nil {
		issuer = template
	}

	return x509.CreateCertificate(rand.Reader, template, issuer, subjectKey, issuerKey)
}

// SelfSignedBirthCertificate generates a fresh P-256 key and a self-signed
// certificate for it. Used for development devices without a factory CA.
func SelfSignedBirthCertificate(cn string, validity time.Duration) ([]byte, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	der, err := CreateBirthCertificate(cn, key.Public(), nil, key, validity)
	if err != nil {
		return nil, nil, err
	}
	return der, key, nil
}

// VerifyCertificateKey checks that cert carries the public key of key.
func VerifyCertificateKey(cert *x509.Certificate, key *ecdsa.PrivateKey) error {
	certKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("unsupported key type")
	}
	if !certKey.Equal(&key.PublicKey) {
		return errors.New("private key doesn't match certificate")
	}
	return nil
}
