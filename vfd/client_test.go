package vfd

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/keys"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	Path    string
	Header  http.Header
	Body    string
	Handled time.Time
}

// fakeTRA records requests and answers with the configured handler.
type fakeTRA struct {
	mu       sync.Mutex
	requests []captured
	handler  func(w http.ResponseWriter, r *http.Request, body string)
	srv      *httptest.Server
}

func newFakeTRA(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) *fakeTRA {
	t.Helper()
	f := &fakeTRA{handler: handler}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c := captured{Path: r.URL.Path, Header: r.Header.Clone(), Body: string(b), Handled: time.Now()}
		f.mu.Lock()
		f.requests = append(f.requests, c)
		f.mu.Unlock()
		f.handler(w, r, string(b))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTRA) calls(path string) []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []captured
	for _, c := range f.requests {
		if path == "" || c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func testCredential(t *testing.T) *keys.FiscalCredential {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &keys.FiscalCredential{
		Signer:            key,
		CertSerial:        []byte{0x1a, 0x2b, 0x3c, 0x4d},
		TIN:               "109272930",
		CertKey:           "10TZ100553",
		RegID:             "TZ0100553",
		ReceiptCodePrefix: "C2A6AA",
		EFDSerial:         "10TZ100553",
	}
}

func TestClient_HeaderSets(t *testing.T) {

	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = w.Write([]byte("<RCTACK><ACKCODE>0</ACKCODE></RCTACK>"))
	})
	c := NewClient(Test, "Gis8TQ==", WithBaseURL(tra.srv.URL))
	ctx := context.Background()

	_, err := c.Post(ctx, OpRegistration, "<EFDMS/>", "")
	require.NoError(t, err)
	_, err = c.Post(ctx, OpReceipt, "<EFDMS/>", "tok")
	require.NoError(t, err)
	_, err = c.Post(ctx, OpZReport, "<EFDMS/>", "tok")
	require.NoError(t, err)
	_, err = c.Post(ctx, OpToken, "username=a&password=b&grant_type=password", "")
	require.NoError(t, err)

	reg := tra.calls("/api/vfdRegReq")
	require.Len(t, reg, 1)
	assert.Equal(t, "application/xml", reg[0].Header.Get("Content-Type"))
	assert.Equal(t, "Gis8TQ==", reg[0].Header.Get("Cert-Serial"))
	assert.Equal(t, "webapi", reg[0].Header.Get("Client"))
	assert.Empty(t, reg[0].Header.Get("Authorization"))

	rct := tra.calls("/api/efdmsRctInfo")
	require.Len(t, rct, 1)
	assert.Equal(t, "vfdrct", rct[0].Header.Get("Routing-Key"))
	assert.Equal(t, "Bearer tok", rct[0].Header.Get("Authorization"))
	assert.Equal(t, "Gis8TQ==", rct[0].Header.Get("Cert-Serial"))

	z := tra.calls("/api/efdmszreport")
	require.Len(t, z, 1)
	assert.Equal(t, "vfdzreport", z[0].Header.Get("Routing-Key"))

	tok := tra.calls("/vfdtoken")
	require.Len(t, tok, 1)
	assert.Equal(t, "application/x-www-form-urlencoded", tok[0].Header.Get("Content-Type"))
	assert.Empty(t, tok[0].Header.Get("Cert-Serial"))
	assert.Empty(t, tok[0].Header.Get("Routing-Key"))
}

func TestClient_ErrorClassification(t *testing.T) {

	status := http.StatusUnauthorized
	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	})
	c := NewClient(Test, "x", WithBaseURL(tra.srv.URL))
	ctx := context.Background()

	_, err := c.Post(ctx, OpReceipt, "<EFDMS/>", "tok")
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.True(t, IsRetryable(err))

	status = http.StatusInternalServerError
	resp, err := c.Post(ctx, OpReceipt, "<EFDMS/>", "tok")
	var apiErr *ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.Status)
	assert.Equal(t, 500, resp.Status)
	assert.True(t, errors.Is(err, ErrProtocol))

	_, err = c.Post(ctx, OpReceipt, "<EFDMS/>", "")
	assert.True(t, errors.Is(err, ErrUnauthorized), "no token, no request")
	assert.Len(t, tra.calls(""), 2)
}

func TestClient_NetworkError(t *testing.T) {

	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		time.Sleep(200 * time.Millisecond)
	})
	c := NewClient(Test, "x", WithBaseURL(tra.srv.URL), WithTimeout(20*time.Millisecond))

	_, err := c.Post(context.Background(), OpReceipt, "<EFDMS/>", "tok")
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, OpReceipt, netErr.Op)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, IsRetryable(err))
}

func TestClient_TokenPath(t *testing.T) {

	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {})
	c := NewClient(Test, "x", WithBaseURL(tra.srv.URL+"/"), WithTokenPath("custom/token"))

	_, err := c.Post(context.Background(), OpToken, "", "")
	require.NoError(t, err)
	assert.Len(t, tra.calls("/custom/token"), 1)
}

func TestEnvironment_UnmarshalText(t *testing.T) {

	var e Environment
	require.NoError(t, e.UnmarshalText([]byte("PROD")))
	assert.Equal(t, Prod, e)
	assert.Equal(t, "https://virtual.tra.go.tz/efdmsRctApi", e.BaseURL())

	require.NoError(t, e.UnmarshalText([]byte("")))
	assert.Equal(t, Test, e)

	assert.Error(t, e.UnmarshalText([]byte("demo")))
}

func TestIsRetryable(t *testing.T) {

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.Wrap(ErrSigning, "x")))
	assert.False(t, IsRetryable(ErrAlreadyProcessing))
	assert.True(t, IsRetryable(&AckError{Code: "7"}))
	assert.True(t, IsRetryable(&AuthError{Status: 400}))

	code, ok := AckCode(errors.Wrap(&AckError{Code: "7"}, "submit"))
	assert.True(t, ok)
	assert.Equal(t, "7", code)
}
