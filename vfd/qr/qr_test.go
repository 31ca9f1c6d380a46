package qr

import (
	"testing"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload(t *testing.T) {

	code := ReceiptCode("C2A6AA", 6)
	assert.Equal(t, "C2A6AA6", code)

	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	p, err := Payload(VerifyBaseURL(vfd.Prod), code, at)
	require.NoError(t, err)
	assert.Equal(t, "https://verify.tra.go.tz/C2A6AA6_140709", p)

	p, err = Payload("https://example.org/verify", code, at)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/verify/C2A6AA6_140709", p)

	p, err = Payload("", code, at)
	require.NoError(t, err)
	assert.Equal(t, "C2A6AA6_140709", p)
}

func TestPayload_Invalid(t *testing.T) {

	_, err := Payload("not a url", "C2A6AA6", time.Now())
	assert.Error(t, err)

	_, err = Payload(VerifyBaseURL(vfd.Test), "", time.Now())
	assert.Error(t, err)
}
