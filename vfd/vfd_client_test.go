package vfd

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/efdms"
	"github.com/alapierre/go-tra-vfd/vfd/ledger"
	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/alapierre/go-tra-vfd/vfd/sign"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registrationAck = `<?xml version="1.0" encoding="UTF-8"?><EFDMS><EFDMSRESP><ACKCODE>0</ACKCODE>` +
	`<ACKMSG>Registration Successful</ACKMSG><REGID>TZ0100553</REGID><SERIAL>10TZ100553</SERIAL>` +
	`<UIN>09VFDWEBAPI-10131758710TZ100553</UIN><TIN>109272930</TIN><VRN>40005334W</VRN>` +
	`<RECEIPTCODE>C2A6AA</RECEIPTCODE><GC>5</GC><TAXOFFICE>Tax Office Ilala</TAXOFFICE>` +
	`<USERNAME>babaabaa</USERNAME><PASSWORD>secret</PASSWORD><TOKENPATH>vfdtoken</TOKENPATH>` +
	`</EFDMSRESP><EFDMSSIGNATURE>sig</EFDMSSIGNATURE></EFDMS>`

func testReceipt() *model.Receipt {
	sale := &model.Sale{ID: "S-1", Lines: []model.Line{{
		ProductID: "1", Description: "Soda", Quantity: decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(10), TaxCode: model.TaxStandard,
	}}}
	issuer := model.Issuer{TIN: "109272930", RegID: "TZ0100553", ReceiptCodePrefix: "C2A6AA"}
	return model.BuildReceipt(sale, issuer, model.Counters{GC: 6, RCTNUM: 6, DC: 1, ZNUM: "20240305"}, time.Now())
}

func TestVfdClient_SubmitReceipt(t *testing.T) {

	cred := testCredential(t)
	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if r.URL.Path == "/vfdtoken" {
			_, _ = w.Write([]byte(`{"access_token":"t1","token_type":"bearer","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`<EFDMS><RCTACK><RCTNUM>6</RCTNUM><ACKCODE>0</ACKCODE><ACKMSG>Success</ACKMSG></RCTACK></EFDMS>`))
	})

	transport := NewClient(Test, cred.CertSerialHeader(), WithBaseURL(tra.srv.URL))
	tokens := NewTokenProvider(NewAuthFacade(transport), staticCredentials)
	c := NewVfdClient(transport, tokens, cred)

	sub, err := c.SubmitReceipt(context.Background(), testReceipt())
	require.NoError(t, err)
	assert.True(t, sub.Ack.OK())

	calls := tra.calls("/api/efdmsRctInfo")
	require.Len(t, calls, 1)
	assert.Equal(t, sub.Envelope, calls[0].Body)
	assert.True(t, strings.HasPrefix(calls[0].Body, `<?xml version="1.0" encoding="UTF-8"?><EFDMS><RCT>`))

	body, sig, err := efdms.Open(calls[0].Body)
	require.NoError(t, err)
	assert.Equal(t, sub.SignedBody, body)
	assert.NoError(t, sign.Verify(body, sig, cred.PublicKey()))
}

func TestVfdClient_NonZeroAck(t *testing.T) {

	cred := testCredential(t)
	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if r.URL.Path == "/vfdtoken" {
			_, _ = w.Write([]byte(`{"access_token":"t1","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`<RCTACK><ACKCODE>7</ACKCODE><ACKMSG>Invalid Signature</ACKMSG></RCTACK>`))
	})
	transport := NewClient(Test, cred.CertSerialHeader(), WithBaseURL(tra.srv.URL))
	c := NewVfdClient(transport, NewTokenProvider(NewAuthFacade(transport), staticCredentials), cred)

	sub, err := c.SubmitReceipt(context.Background(), testReceipt())
	require.NotNil(t, sub)
	code, ok := AckCode(err)
	assert.True(t, ok)
	assert.Equal(t, "7", code)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestVfdClient_UnauthorizedInvalidatesToken(t *testing.T) {

	cred := testCredential(t)
	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if r.URL.Path == "/vfdtoken" {
			_, _ = w.Write([]byte(`{"access_token":"t1","expires_in":3600}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	transport := NewClient(Test, cred.CertSerialHeader(), WithBaseURL(tra.srv.URL))
	tokens := NewTokenProvider(NewAuthFacade(transport), staticCredentials)
	c := NewVfdClient(transport, tokens, cred)

	_, err := c.SubmitReceipt(context.Background(), testReceipt())
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Empty(t, tokens.Current().Value)

	_, err = c.SubmitReceipt(context.Background(), testReceipt())
	assert.Error(t, err)
	assert.Len(t, tra.calls("/vfdtoken"), 2, "token fetched again after 401")
}

func TestVfdClient_MalformedAck(t *testing.T) {

	cred := testCredential(t)
	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if r.URL.Path == "/vfdtoken" {
			_, _ = w.Write([]byte(`{"access_token":"t1","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	transport := NewClient(Test, cred.CertSerialHeader(), WithBaseURL(tra.srv.URL))
	c := NewVfdClient(transport, NewTokenProvider(NewAuthFacade(transport), staticCredentials), cred)

	_, err := c.SubmitReceipt(context.Background(), testReceipt())
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.True(t, errors.Is(err, efdms.ErrMalformed))
	assert.True(t, IsRetryable(err))
}

func TestRegistrar_Ensure(t *testing.T) {

	cred := testCredential(t)
	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = w.Write([]byte(registrationAck))
	})

	db, err := store.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	clock := clockwork.NewFakeClock()
	l := ledger.New(db, clock)
	transport := NewClient(Test, cred.CertSerialHeader(), WithBaseURL(tra.srv.URL))
	c := NewVfdClient(transport, NewTokenProvider(NewAuthFacade(transport), RegistrationCredentials(db)), cred)
	r := NewRegistrar(c, db, l, clock)
	ctx := context.Background()

	reg, err := r.Ensure(ctx)
	require.NoError(t, err)
	assert.Equal(t, "C2A6AA", reg.ReceiptCode)

	cur, err := l.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cur.GC)

	regCalls := tra.calls("/api/vfdRegReq")
	require.Len(t, regCalls, 1)
	assert.Contains(t, regCalls[0].Body, "<REGDATA><TIN>109272930</TIN><CERTKEY>10TZ100553</CERTKEY></REGDATA>")

	// registered devices are not registered again
	_, err = r.Ensure(ctx)
	require.NoError(t, err)
	assert.Len(t, tra.calls("/api/vfdRegReq"), 1)

	user, pass, err := RegistrationCredentials(db)(ctx)
	require.NoError(t, err)
	assert.Equal(t, "babaabaa", user)
	assert.Equal(t, "secret", pass)

	full := Credential(cred, reg)
	assert.Equal(t, "TZ0100553", full.RegID)
}

func TestRegistrar_Rejected(t *testing.T) {

	cred := testCredential(t)
	tra := newFakeTRA(t, func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = w.Write([]byte(`<EFDMS><EFDMSRESP><ACKCODE>1</ACKCODE><ACKMSG>Invalid TIN</ACKMSG></EFDMSRESP></EFDMS>`))
	})
	db, err := store.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	transport := NewClient(Test, cred.CertSerialHeader(), WithBaseURL(tra.srv.URL))
	c := NewVfdClient(transport, nil, cred)
	_, err = NewRegistrar(c, db, ledger.New(db, nil), nil).Ensure(context.Background())

	code, ok := AckCode(err)
	assert.True(t, ok)
	assert.Equal(t, "1", code)

	reg, err := store.LoadRegistration(context.Background(), db)
	require.NoError(t, err)
	assert.Nil(t, reg)
}
