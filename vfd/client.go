package vfd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/metrics"
	"github.com/alapierre/go-tra-vfd/vfd/util"
	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Operation selects the endpoint and the header set of a request.
type Operation string

const (
	OpRegistration Operation = "registration"
	OpToken        Operation = "token"
	OpReceipt      Operation = "receipt"
	OpZReport      Operation = "zreport"
)

const (
	RoutingKeyReceipt = "vfdrct"
	RoutingKeyZReport = "vfdzreport"

	DefaultClientName = "webapi"
	DefaultTimeout    = 30 * time.Second

	contentTypeXML  = "application/xml"
	contentTypeForm = "application/x-www-form-urlencoded"
)

var defaultPaths = map[Operation]string{
	OpRegistration: "/api/vfdRegReq",
	OpToken:        "/vfdtoken",
	OpReceipt:      "/api/efdmsRctInfo",
	OpZReport:      "/api/efdmszreport",
}

// Response raw answer of the authority.
type Response struct {
	Status int
	Body   []byte
}

// Client posts documents to TRA. It never retries; retry policy belongs to
// the submission queue.
type Client struct {
	rest       *resty.Client
	baseURL    string
	certSerial string
	clientName string
	paths      map[Operation]string
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.rest = resty.NewWithClient(hc)
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.rest.SetTimeout(d)
		}
	}
}

// WithBaseURL overrides the environment URL, e.g. for a local stub.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithClientName(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.clientName = name
		}
	}
}

// WithTokenPath path returned as TOKENPATH by registration.
func WithTokenPath(p string) ClientOption {
	return func(c *Client) {
		if p != "" {
			c.paths[OpToken] = "/" + strings.TrimLeft(p, "/")
		}
	}
}

// WithRateLimit bounds outbound requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient certSerial is the Cert-Serial header value (base64 of the raw serial).
func NewClient(env Environment, certSerial string, opts ...ClientOption) *Client {
	c := &Client{
		rest:       resty.New(),
		baseURL:    env.BaseURL(),
		certSerial: certSerial,
		clientName: DefaultClientName,
		paths:      make(map[Operation]string, len(defaultPaths)),
	}
	for op, p := range defaultPaths {
		c.paths[op] = p
	}
	c.rest.SetTimeout(DefaultTimeout)
	for _, o := range opts {
		o(c)
	}
	if c.rest.GetClient().Timeout == 0 {
		c.rest.SetTimeout(DefaultTimeout)
	}
	return c
}

func (c *Client) url(op Operation) string {
	return c.baseURL + c.paths[op]
}

// Post sends body with the header set of op. token is used by receipt and
// Z-report operations only. A 401 maps to ErrUnauthorized, any other status
// >= 400 to *ApiError and transport failures to *NetworkError.
func (c *Client) Post(ctx context.Context, op Operation, body string, token string) (*Response, error) {
	if _, ok := c.paths[op]; !ok {
		return nil, errors.Errorf("unknown operation %q", op)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{Op: op, Err: err}
		}
	}

	r := c.rest.R().SetContext(ctx).SetBody(body)
	if util.HttpTraceEnabled() {
		r.EnableTrace()
	}

	switch op {
	case OpToken:
		r.SetHeader("Content-Type", contentTypeForm)
	case OpRegistration:
		r.SetHeader("Content-Type", contentTypeXML).
			SetHeader("Cert-Serial", c.certSerial).
			SetHeader("Client", c.clientName)
	case OpReceipt, OpZReport:
		if token == "" {
			return nil, errors.Wrapf(ErrUnauthorized, "%s without access token", op)
		}
		key := RoutingKeyReceipt
		if op == OpZReport {
			key = RoutingKeyZReport
		}
		r.SetHeader("Content-Type", contentTypeXML).
			SetHeader("Routing-Key", key).
			SetHeader("Cert-Serial", c.certSerial).
			SetAuthToken(token)
	}

	start := time.Now()
	resp, err := r.Post(c.url(op))
	if err != nil {
		c.metrics.ObserveRequest(string(op), 0, time.Since(start))
		logger.WithFields(logrus.Fields{"op": op, "url": c.url(op)}).Warnf("request failed: %v", err)
		return nil, &NetworkError{Op: op, Err: err}
	}
	c.metrics.ObserveRequest(string(op), resp.StatusCode(), time.Since(start))
	c.printTraceInfo(op, resp)

	out := &Response{Status: resp.StatusCode(), Body: resp.Body()}
	switch {
	case out.Status == http.StatusUnauthorized:
		return out, errors.Wrapf(ErrUnauthorized, "%s: %s", op, truncate(out.Body, 256))
	case out.Status >= 400:
		return out, &ApiError{Status: out.Status, Body: out.Body}
	}
	return out, nil
}

func (c *Client) printTraceInfo(op Operation, resp *resty.Response) {

	if !util.DebugEnabled() {
		return
	}

	entry := logger.WithFields(logrus.Fields{
		"op":     op,
		"url":    c.url(op),
		"status": resp.StatusCode(),
		"time":   resp.Time(),
	})
	entry.Debugf("response body: %s", truncate(resp.Body(), 2048))

	if !util.HttpTraceEnabled() {
		return
	}
	ti := resp.Request.TraceInfo()
	entry.Debug(fmt.Sprintf("trace dns=%v conn=%v tls=%v server=%v total=%v reused=%v",
		ti.DNSLookup, ti.ConnTime, ti.TLSHandshake, ti.ServerTime, ti.TotalTime, ti.IsConnReused))
}
