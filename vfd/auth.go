package vfd

import (
	"context"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// TokenInfo answer of the token endpoint.
type TokenInfo struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
}

// AuthFacade requests access tokens with the password grant.
type AuthFacade struct {
	client *Client
}

func NewAuthFacade(client *Client) *AuthFacade {
	return &AuthFacade{client: client}
}

// RequestToken every failure, network included, is returned as *AuthError.
func (a *AuthFacade) RequestToken(ctx context.Context, username, password string) (*TokenInfo, error) {
	if username == "" || password == "" {
		return nil, &AuthError{Err: errors.New("username and password are required, register the device first")}
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("grant_type", "password")

	resp, err := a.client.Post(ctx, OpToken, form.Encode(), "")
	if err != nil {
		ae := &AuthError{Err: err}
		if resp != nil {
			ae.Status, ae.Body = resp.Status, resp.Body
		}
		return nil, ae
	}

	ti, err := decodeToken(resp.Body)
	if err != nil {
		return nil, &AuthError{Status: resp.Status, Body: resp.Body, Err: err}
	}
	logger.WithField("expiresIn", ti.ExpiresIn).Debug("access token issued")
	return ti, nil
}

func decodeToken(body []byte) (*TokenInfo, error) {
	ti := &TokenInfo{}
	var errDesc string

	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "access_token":
			v, err := d.Str()
			ti.AccessToken = v
			return err
		case "token_type":
			v, err := d.Str()
			ti.TokenType = v
			return err
		case "expires_in":
			secs, err := seconds(d)
			ti.ExpiresIn = time.Duration(secs) * time.Second
			return err
		case "error", "error_description":
			if d.Next() != jx.String {
				return d.Skip()
			}
			v, err := d.Str()
			if errDesc == "" || key == "error_description" {
				errDesc = v
			}
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode token response")
	}
	if ti.AccessToken == "" {
		if errDesc != "" {
			return nil, errors.Errorf("token endpoint: %s", errDesc)
		}
		return nil, errors.New("token response without access_token")
	}
	return ti, nil
}

// expires_in is a number, some gateways quote it
func seconds(d *jx.Decoder) (int64, error) {
	switch d.Next() {
	case jx.Number:
		return d.Int64()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		n, err := jx.DecodeStr(s).Int64()
		if err != nil {
			return 0, errors.Wrapf(err, "expires_in %q", s)
		}
		return n, nil
	default:
		return 0, d.Skip()
	}
}
