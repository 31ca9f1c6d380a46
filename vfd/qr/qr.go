package qr

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "vfd.qr")

// VerifyBaseURL receipt verification portal of env.
func VerifyBaseURL(env vfd.Environment) string {
	switch env {
	case vfd.Prod:
		return "https://verify.tra.go.tz/"
	default:
		return "https://virtual.tra.go.tz/efdmsRctVerify/"
	}
}

// ReceiptCode RCTVNUM: registration RECEIPTCODE followed by GC.
func ReceiptCode(prefix string, gc int64) string {
	return prefix + strconv.FormatInt(gc, 10)
}

// Payload content encoded in the receipt QR code:
// {verifyURL}{receiptCode}_{HHMMSS}
func Payload(verifyURL, receiptCode string, issuedAt time.Time) (string, error) {
	if receiptCode == "" {
		return "", fmt.Errorf("receipt code is empty")
	}
	base := verifyURL
	if base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("invalid verification url %q", verifyURL)
		}
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
	}
	payload := base + receiptCode + "_" + issuedAt.Format("150405")
	logger.Debugf("QR payload: %s", payload)
	return payload, nil
}
