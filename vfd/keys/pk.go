package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/youmark/pkcs8"
	"software.sslmate.com/src/go-pkcs12"
)

// LoadSignerFromFile loads an RSA private key from a PFX/P12 bundle or a PEM file.
// The certificate is returned when the file carries one (PFX only).
func LoadSignerFromFile(path string, password []byte) (crypto.Signer, *x509.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read key file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pfx", ".p12":
		return LoadSignerFromPFX(b, password)
	}

	if block, _ := pem.Decode(b); block == nil {
		// not PEM, try PKCS#12
		return LoadSignerFromPFX(b, password)
	}
	s, err := LoadSignerFromPEM(b, password)
	return s, nil, err
}

// LoadSignerFromPFX decodes a PKCS#12 bundle as issued by TRA together with the VFD certificate.
func LoadSignerFromPFX(data []byte, password []byte) (crypto.Signer, *x509.Certificate, error) {
	key, cert, _, err := pkcs12.DecodeChain(data, string(password))
	if err != nil {
		return nil, nil, fmt.Errorf("decode PKCS#12: %w", err)
	}
	s, err := asRSASigner(key)
	if err != nil {
		return nil, nil, err
	}
	return s, cert, nil
}

// LoadSignerFromPEM loads the first private key block found in pemBytes.
// ENCRYPTED PRIVATE KEY blocks require a password.
func LoadSignerFromPEM(pemBytes []byte, password []byte) (crypto.Signer, error) {
	for len(pemBytes) > 0 {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			break
		}

		switch block.Type {
		case "ENCRYPTED PRIVATE KEY":
			if len(password) == 0 {
				return nil, errors.New("password is required for ENCRYPTED PRIVATE KEY")
			}
			keyAny, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
			if err != nil {
				return nil, fmt.Errorf("decrypt PKCS#8 encrypted private key: %w", err)
			}
			return asRSASigner(keyAny)
		case "PRIVATE KEY":
			keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
			}
			return asRSASigner(keyAny)
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS#1 private key: %w", err)
			}
			return k, nil
		}
	}

	return nil, errors.New("no private key block found in PEM")
}

// TRA verifies EFDMSSIGNATURE with SHA1withRSA only
func asRSASigner(keyAny any) (crypto.Signer, error) {
	switch k := keyAny.(type) {
	case *rsa.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %T (expected RSA)", keyAny)
	}
}
