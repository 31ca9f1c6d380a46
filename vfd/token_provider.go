package vfd

import (
	"context"
	"sync"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/metrics"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
)

// TokenRequester implemented by AuthFacade.
type TokenRequester interface {
	RequestToken(ctx context.Context, username, password string) (*TokenInfo, error)
}

// CredentialsFunc returns the token endpoint username and password,
// which are only known after registration.
type CredentialsFunc func(ctx context.Context) (username, password string, err error)

// AccessToken cached bearer token; kept in memory only.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// lifetime assumed when the token response carries no usable expires_in
const fallbackTokenLifetime = time.Hour

// TokenProvider caches the access token and fetches a new one when it is
// absent, about to expire, or invalidated after a 401. A failed fetch is
// returned to the caller; there is no fetch loop.
type TokenProvider struct {
	auth        TokenRequester
	credentials CredentialsFunc
	clock       clockwork.Clock
	metrics     *metrics.Metrics

	mu    sync.Mutex
	token AccessToken

	// how long before expiry the token is considered stale
	refreshSkew time.Duration
}

type TokenProviderOption func(*TokenProvider)

func WithClock(c clockwork.Clock) TokenProviderOption {
	return func(p *TokenProvider) { p.clock = c }
}

func WithRefreshSkew(d time.Duration) TokenProviderOption {
	return func(p *TokenProvider) { p.refreshSkew = d }
}

func WithTokenMetrics(m *metrics.Metrics) TokenProviderOption {
	return func(p *TokenProvider) { p.metrics = m }
}

func NewTokenProvider(auth TokenRequester, credentials CredentialsFunc, opts ...TokenProviderOption) *TokenProvider {
	p := &TokenProvider{
		auth:        auth,
		credentials: credentials,
		clock:       clockwork.NewRealClock(),
		refreshSkew: 60 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Token returns a valid bearer token, fetching one when needed.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {

	if token, ok := p.currentIfValid(); ok {
		return token, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// double check, another caller may have fetched meanwhile
	if token, ok := p.currentIfValidLocked(); ok {
		return token, nil
	}

	return p.fetchLocked(ctx)
}

// Invalidate drops the cached token, e.g. after the authority answered 401.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token.Value != "" {
		logger.Debug("TokenProvider: access token invalidated")
	}
	p.token = AccessToken{}
}

// Current cached token, possibly stale.
func (p *TokenProvider) Current() AccessToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *TokenProvider) currentIfValid() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIfValidLocked()
}

func (p *TokenProvider) currentIfValidLocked() (string, bool) {
	if p.token.Value == "" || p.token.ExpiresAt.IsZero() {
		return "", false
	}
	if p.token.ExpiresAt.Sub(p.clock.Now()) <= p.skewLocked() {
		return "", false
	}
	return p.token.Value, true
}

// skewLocked is the refresh skew capped at half the token lifetime, so a
// short lived token is still reused for a while.
func (p *TokenProvider) skewLocked() time.Duration {
	skew := p.refreshSkew
	if half := p.token.ExpiresAt.Sub(p.token.IssuedAt) / 2; skew > half {
		skew = half
	}
	return skew
}

func (p *TokenProvider) fetchLocked(ctx context.Context) (string, error) {
	username, password, err := p.credentials(ctx)
	if err != nil {
		p.metrics.TokenFetch(false)
		return "", &AuthError{Err: errors.Wrap(err, "token credentials")}
	}

	logger.Debug("TokenProvider: requesting access token")
	ti, err := p.auth.RequestToken(ctx, username, password)
	if err != nil {
		p.metrics.TokenFetch(false)
		var ae *AuthError
		if errors.As(err, &ae) {
			return "", err
		}
		return "", &AuthError{Err: err}
	}
	p.metrics.TokenFetch(true)

	lifetime := ti.ExpiresIn
	if lifetime <= 0 {
		logger.WithField("expiresIn", ti.ExpiresIn).Warnf("TokenProvider: no usable token lifetime, assuming %s", fallbackTokenLifetime)
		lifetime = fallbackTokenLifetime
	}
	now := p.clock.Now()
	p.token = AccessToken{
		Value:     ti.AccessToken,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}
	logger.WithField("expiresAt", p.token.ExpiresAt).Debug("TokenProvider: access token cached")
	return p.token.Value, nil
}
