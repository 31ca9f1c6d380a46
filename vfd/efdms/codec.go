// Package efdms converts fiscal documents to and from the TRA XML wire format.
// Element order is fixed per document type; the signature covers it.
package efdms

import (
	"crypto"
	"regexp"
	"strconv"
	"strings"

	"github.com/alapierre/go-tra-vfd/vfd/sign"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "vfd.efdms")

// ErrMalformed the document could not be read
var ErrMalformed = errors.New("vfd: malformed document")

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`
)

var declaration = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)

// StripDeclaration removes a leading <?xml ...?> prolog.
func StripDeclaration(doc string) string {
	return strings.TrimSpace(declaration.ReplaceAllString(doc, ""))
}

// Envelope wraps an already signed body. body must be the exact text that
// was signed; it is concatenated, never re-serialized.
func Envelope(body, signature string) string {
	var b strings.Builder
	b.Grow(len(xmlDeclaration) + len(body) + len(signature) + 64)
	b.WriteString(xmlDeclaration)
	b.WriteString("<EFDMS>")
	b.WriteString(body)
	b.WriteString("<EFDMSSIGNATURE>")
	b.WriteString(signature)
	b.WriteString("</EFDMSSIGNATURE></EFDMS>")
	return b.String()
}

// Seal strips the prolog, normalizes, signs and wraps body.
// It returns the envelope and the normalized body that was signed.
func Seal(body string, signer crypto.Signer) (string, string, error) {
	normalized := sign.Normalize(StripDeclaration(body))
	sig, err := sign.Sign(normalized, signer)
	if err != nil {
		return "", "", err
	}
	logger.Debugf("sealed document: %s", normalized)
	return Envelope(normalized, sig), normalized, nil
}

// Open splits an envelope into its body fragment and signature.
func Open(envelope string) (string, string, error) {
	s := StripDeclaration(envelope)
	if !strings.HasPrefix(s, "<EFDMS>") || !strings.HasSuffix(s, "</EFDMS>") {
		return "", "", errors.Wrap(ErrMalformed, "no EFDMS envelope")
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "<EFDMS>"), "</EFDMS>")
	i := strings.LastIndex(inner, "<EFDMSSIGNATURE>")
	if i < 0 || !strings.HasSuffix(inner, "</EFDMSSIGNATURE>") {
		return "", "", errors.Wrap(ErrMalformed, "no EFDMSSIGNATURE")
	}
	sig := strings.TrimSuffix(inner[i+len("<EFDMSSIGNATURE>"):], "</EFDMSSIGNATURE>")
	return inner[:i], sig, nil
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.WriteSettings.CanonicalEndTags = true
	doc.WriteSettings.CanonicalText = true
	return doc
}

func write(doc *etree.Document) (string, error) {
	s, err := doc.WriteToString()
	if err != nil {
		return "", errors.Wrap(err, "write xml")
	}
	return s, nil
}

func parse(s string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "parse xml: %v", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.Wrap(ErrMalformed, "empty document")
	}
	return root, nil
}

func add(parent *etree.Element, tag, text string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(text)
	return el
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func text(parent *etree.Element, tag string) string {
	if el := parent.SelectElement(tag); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

func number(parent *etree.Element, tag string) (decimal.Decimal, error) {
	s := text(parent, tag)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrMalformed, "%s: %v", tag, err)
	}
	return d, nil
}

func integer(parent *etree.Element, tag string) (int64, error) {
	s := text(parent, tag)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "%s: %v", tag, err)
	}
	return n, nil
}

func parseInto(el *etree.Element, dst *decimal.Decimal) error {
	d, err := decimal.NewFromString(strings.TrimSpace(el.Text()))
	if err != nil {
		return errors.Wrapf(ErrMalformed, "%s: %v", el.Tag, err)
	}
	*dst = d
	return nil
}
