package keys

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "vfd.keys")

// ErrCredentialMissing signing is impossible without the key, the serial and the TIN
var ErrCredentialMissing = errors.New("vfd: fiscal credential missing")

// Options points at the key material issued at onboarding.
type Options struct {
	KeyFile     string
	KeyPassword string
	// CertFile optional, PFX bundles already carry the certificate
	CertFile string
	// CertSerial hex serial used when no certificate is available
	CertSerial string

	TIN         string
	CertKey     string
	RegID       string
	ReceiptCode string
	EFDSerial   string
}

// FiscalCredential is immutable after Load; share it by pointer.
type FiscalCredential struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate
	CertSerial  []byte

	TIN string
	// CertKey identifier sent in REGDATA
	CertKey string
	RegID   string
	// ReceiptCodePrefix RECEIPTCODE from registration, prefix of RCTVNUM
	ReceiptCodePrefix string
	EFDSerial         string
}

// CertSerialHeader value of the Cert-Serial header.
func (c *FiscalCredential) CertSerialHeader() string {
	return base64.StdEncoding.EncodeToString(c.CertSerial)
}

// PublicKey of the signing key.
func (c *FiscalCredential) PublicKey() *rsa.PublicKey {
	if pub, ok := c.Signer.Public().(*rsa.PublicKey); ok {
		return pub
	}
	return nil
}

// Registered reports whether the registration identifiers are known.
func (c *FiscalCredential) Registered() bool {
	return c.RegID != "" && c.ReceiptCodePrefix != ""
}

// WithRegistration returns a copy carrying the identifiers assigned by TRA.
// Empty arguments keep the current value.
func (c *FiscalCredential) WithRegistration(regID, receiptCode, efdSerial string) *FiscalCredential {
	cp := *c
	if regID != "" {
		cp.RegID = regID
	}
	if receiptCode != "" {
		cp.ReceiptCodePrefix = receiptCode
	}
	if efdSerial != "" {
		cp.EFDSerial = efdSerial
	}
	return &cp
}

// Load reads the credential once. Any missing piece fails with ErrCredentialMissing.
func Load(opts Options) (*FiscalCredential, error) {
	if strings.TrimSpace(opts.KeyFile) == "" {
		return nil, errors.Wrap(ErrCredentialMissing, "key file not configured")
	}
	if strings.TrimSpace(opts.TIN) == "" {
		return nil, errors.Wrap(ErrCredentialMissing, "TIN not configured")
	}

	signer, cert, err := LoadSignerFromFile(opts.KeyFile, []byte(opts.KeyPassword))
	if err != nil {
		return nil, missing(err, "load private key")
	}

	if cert == nil && opts.CertFile != "" {
		cert, err = LoadCertificateFromFile(opts.CertFile)
		if err != nil {
			return nil, missing(err, "load certificate")
		}
	}

	var serial []byte
	switch {
	case cert != nil:
		serial, err = SerialBytes(cert)
	case opts.CertSerial != "":
		serial, err = ParseSerialHex(opts.CertSerial)
	default:
		err = errors.New("neither certificate nor certificate serial configured")
	}
	if err != nil {
		return nil, missing(err, "certificate serial")
	}

	if cert != nil {
		if err := matchKey(cert, signer); err != nil {
			return nil, missing(err, "certificate does not match key")
		}
	}

	c := &FiscalCredential{
		Signer:            signer,
		Certificate:       cert,
		CertSerial:        serial,
		TIN:               strings.TrimSpace(opts.TIN),
		CertKey:           opts.CertKey,
		RegID:             opts.RegID,
		ReceiptCodePrefix: opts.ReceiptCode,
		EFDSerial:         opts.EFDSerial,
	}

	logger.WithFields(logrus.Fields{
		"tin":        c.TIN,
		"certSerial": c.CertSerialHeader(),
		"registered": c.Registered(),
	}).Info("fiscal credential loaded")

	return c, nil
}

func matchKey(cert *x509.Certificate, signer crypto.Signer) error {
	pub, err := PublicKey(cert)
	if err != nil {
		return err
	}
	if !pub.Equal(signer.Public()) {
		return errors.New("public key mismatch")
	}
	return nil
}

func missing(err error, what string) error {
	return fmt.Errorf("%s: %w: %w", what, ErrCredentialMissing, err)
}
