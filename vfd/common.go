package vfd

import (
	"fmt"
	"strings"

	"github.com/alapierre/go-tra-vfd/vfd/keys"
	"github.com/alapierre/go-tra-vfd/vfd/sign"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "vfd")

var (
	// ErrCredentialMissing key material, certificate serial or TIN could not be loaded
	ErrCredentialMissing = keys.ErrCredentialMissing
	// ErrAuthFailure token endpoint refused or could not be reached
	ErrAuthFailure = errors.New("vfd: access token request failed")
	// ErrSigning the document could not be signed
	ErrSigning = sign.ErrSigning
	// ErrNetwork the request did not complete (dial, TLS, timeout, ...)
	ErrNetwork = errors.New("vfd: network failure")
	// ErrProtocol the authority answered with a non-zero or unreadable ack
	ErrProtocol = errors.New("vfd: protocol failure")
	// ErrUnauthorized HTTP 401, the caller invalidates its token
	ErrUnauthorized = errors.New("vfd: unauthorized")
	// ErrAlreadyProcessing another submission for the same sale is queued or running
	ErrAlreadyProcessing = errors.New("another receipt is being processed for this sale")
	// ErrAlreadyAcknowledged the sale already has an acknowledged fiscal receipt
	ErrAlreadyAcknowledged = errors.New("sale already has an acknowledged fiscal receipt")
	// ErrNotRegistered no registration data is available yet
	ErrNotRegistered = errors.New("vfd: device is not registered")
)

// ApiError HTTP level failure reported by the authority
type ApiError struct {
	Status int    // HTTP status, e.g. 500
	Body   []byte // response body for diagnostics
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("TRA returns http status %d: %s", e.Status, truncate(e.Body, 256))
}

func (e *ApiError) Unwrap() error { return ErrProtocol }

// AuthError failure of the token endpoint
type AuthError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token request failed: %v", e.Err)
	}
	return fmt.Sprintf("token request failed with http status %d: %s", e.Status, truncate(e.Body, 256))
}

func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAuthFailure, e.Err}
	}
	return []error{ErrAuthFailure}
}

// NetworkError wraps a transport failure of a single operation
type NetworkError struct {
	Op  Operation
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// AckError non-zero acknowledgement returned by the authority
type AckError struct {
	Code    string
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("TRA rejected document: ack code %s (%s)", e.Code, e.Message)
}

func (e *AckError) Unwrap() error { return ErrProtocol }

// IsRetryable reports whether err is worth another attempt at the job level.
// Credential and signing errors never heal by themselves.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCredentialMissing), errors.Is(err, ErrSigning),
		errors.Is(err, ErrAlreadyProcessing), errors.Is(err, ErrAlreadyAcknowledged):
		return false
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrProtocol),
		errors.Is(err, ErrAuthFailure), errors.Is(err, ErrUnauthorized):
		return true
	}
	return true
}

// AckCode extracts the ack code carried by err, if any.
func AckCode(err error) (string, bool) {
	var ae *AckError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

type Environment int

const (
	Test Environment = iota
	Prod
)

func (e Environment) BaseURL() string {
	switch e {
	case Prod:
		return "https://virtual.tra.go.tz/efdmsRctApi"
	case Test:
		return "https://vfdtest.tra.go.tz"
	}
	panic("Invalid environment")
}

func (e Environment) Name() string {
	switch e {
	case Prod:
		return "prod"
	case Test:
		return "test"
	}
	panic("Invalid environment")
}

func (e *Environment) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "prod", "production":
		*e = Prod
	case "test", "":
		*e = Test
	default:
		return fmt.Errorf("invalid VFD_ENV: %q (allowed: prod, test)", val)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
