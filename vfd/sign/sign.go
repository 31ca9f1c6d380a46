// Package sign produces the detached EFDMSSIGNATURE value: SHA1withRSA over
// the whitespace-normalized document body, base64 encoded.
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "vfd.sign")

var ErrSigning = errors.New("vfd: signing failed")

var interTagSpace = regexp.MustCompile(`>\s+<`)

// Normalize collapses whitespace between tags and trims the result.
// The server compares the signed bytes exactly, so callers must embed
// the normalized text, not the original.
func Normalize(body string) string {
	return strings.TrimSpace(interTagSpace.ReplaceAllString(body, "><"))
}

// Sign normalizes body and returns the base64 signature over it.
func Sign(body string, signer crypto.Signer) (string, error) {
	if signer == nil {
		return "", errors.Wrap(ErrSigning, "no private key")
	}
	if _, ok := signer.Public().(*rsa.PublicKey); !ok {
		return "", errors.Wrapf(ErrSigning, "unsupported key type %T", signer.Public())
	}

	normalized := Normalize(body)
	digest := sha1.Sum([]byte(normalized))

	sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA1)
	if err != nil {
		return "", errors.Wrapf(ErrSigning, "rsa sign: %v", err)
	}

	out := base64.StdEncoding.EncodeToString(sig)
	logger.Debugf("signed %d bytes", len(normalized))
	return out, nil
}

// Verify checks sigB64 against body exactly as given, no normalization is applied.
func Verify(body, sigB64 string, pub *rsa.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return errors.Wrap(err, "decode signature")
	}
	digest := sha1.Sum([]byte(body))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
		return errors.Wrap(err, "verify signature")
	}
	return nil
}
