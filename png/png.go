package png

import (
	"github.com/go-faster/errors"
	"github.com/skip2/go-qrcode"
)

const DefaultSize = 300

// Encode renders content as a QR code PNG of size x size pixels.
func Encode(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	b, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr")
	}
	return b, nil
}

// Renderer adapts Encode to the receipt QR renderer contract.
type Renderer struct {
	Size int
}

func (r Renderer) Render(payload string) ([]byte, error) {
	return Encode(payload, r.Size)
}
