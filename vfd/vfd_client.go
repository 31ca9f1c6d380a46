package vfd

import (
	"context"
	"fmt"

	"github.com/alapierre/go-tra-vfd/vfd/efdms"
	"github.com/alapierre/go-tra-vfd/vfd/keys"
	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// Submission result of an acknowledged document.
type Submission struct {
	Ack *model.Ack
	// SignedBody exact fragment covered by the signature
	SignedBody string
	Envelope   string
}

// VfdClient composes codec, signer, token provider and transport for each
// TRA operation. One call is one attempt.
type VfdClient struct {
	transport *Client
	tokens    *TokenProvider
	cred      *keys.FiscalCredential
}

func NewVfdClient(transport *Client, tokens *TokenProvider, cred *keys.FiscalCredential) *VfdClient {
	return &VfdClient{transport: transport, tokens: tokens, cred: cred}
}

func (c *VfdClient) Credential() *keys.FiscalCredential {
	return c.cred
}

// Register sends REGDATA. Registration is authorized by Cert-Serial only.
func (c *VfdClient) Register(ctx context.Context) (*model.RegistrationInfo, error) {
	body, err := efdms.EncodeRegistration(c.cred.TIN, c.cred.CertKey)
	if err != nil {
		return nil, err
	}
	envelope, _, err := efdms.Seal(body, c.cred.Signer)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Post(ctx, OpRegistration, envelope, "")
	if err != nil {
		return nil, err
	}

	info, err := efdms.DecodeRegistration(string(resp.Body))
	if err != nil {
		return nil, protocol(err)
	}
	if info.AckCode != model.AckOK {
		return info, &AckError{Code: info.AckCode, Message: info.AckMsg}
	}
	logger.WithFields(logrus.Fields{"regId": info.RegID, "gc": info.GC}).Info("device registered")
	return info, nil
}

// SubmitReceipt signs and posts one RCT.
func (c *VfdClient) SubmitReceipt(ctx context.Context, r *model.Receipt) (*Submission, error) {
	body, err := efdms.EncodeReceipt(r)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, OpReceipt, body)
}

// SubmitZReport signs and posts one ZREPORT.
func (c *VfdClient) SubmitZReport(ctx context.Context, z *model.ZReport) (*Submission, error) {
	body, err := efdms.EncodeZReport(z)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, OpZReport, body)
}

func (c *VfdClient) submit(ctx context.Context, op Operation, body string) (*Submission, error) {
	envelope, signed, err := efdms.Seal(body, c.cred.Signer)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Post(ctx, op, envelope, token)
	if errors.Is(err, ErrUnauthorized) {
		c.tokens.Invalidate()
	}
	if err != nil {
		return nil, err
	}

	ack, err := efdms.DecodeAck(string(resp.Body))
	if err != nil {
		return nil, protocol(err)
	}

	sub := &Submission{Ack: ack, SignedBody: signed, Envelope: envelope}
	if !ack.OK() {
		return sub, &AckError{Code: ack.Code, Message: ack.Message}
	}
	return sub, nil
}

func protocol(err error) error {
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}
