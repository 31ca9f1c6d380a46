package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

func LoadCertificateFromFile(path string) (*x509.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cert file: %w", err)
	}
	return LoadCertificate(b)
}

func LoadCertificate(certBytes []byte) (*x509.Certificate, error) {
	// PEM?
	if block, _ := pem.Decode(certBytes); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("unexpected PEM block: %s", block.Type)
		}
		certBytes = block.Bytes
	}

	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, errors.New("parsed cert is nil")
	}
	return cert, nil
}

// SerialBytes returns the raw (unsigned, big-endian) serial number of cert.
func SerialBytes(cert *x509.Certificate) ([]byte, error) {
	if cert == nil {
		return nil, errors.New("cert is nil")
	}
	if cert.SerialNumber == nil {
		return nil, errors.New("cert.SerialNumber is nil")
	}
	b := cert.SerialNumber.Bytes()
	if len(b) == 0 {
		return nil, errors.New("empty certificate serial")
	}
	return b, nil
}

// ParseSerialHex accepts the serial as printed by certificate viewers,
// with or without colon/space separators.
func ParseSerialHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", " ", "", "-", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return nil, errors.New("empty certificate serial")
	}
	if len(clean)%2 == 1 {
		clean = "0" + clean
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("certificate serial is not hex: %w", err)
	}
	return b, nil
}

// PublicKey returns the RSA public key of cert.
func PublicKey(cert *x509.Certificate) (*rsa.PublicKey, error) {
	rsaPub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cert does not carry an RSA key (type: %T)", cert.PublicKey)
	}
	return rsaPub, nil
}
