package efdms

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/alapierre/go-tra-vfd/vfd/sign"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const expectedRCT = `<RCT><DATE>2024-03-05</DATE><TIME>14:07:09</TIME><TIN>109272930</TIN>` +
	`<REGID>TZ0100553</REGID><EFDSERIAL>10TZ100553</EFDSERIAL><CUSTIDTYPE>6</CUSTIDTYPE>` +
	`<CUSTID></CUSTID><CUSTNAME></CUSTNAME><MOBILENUM></MOBILENUM><RCTNUM>6</RCTNUM><DC>1</DC>` +
	`<GC>6</GC><ZNUM>20240305</ZNUM><RCTVNUM>C2A6AA6</RCTVNUM><ITEMS><ITEM><ID>P1</ID>` +
	`<DESC>Soda</DESC><QTY>2</QTY><TAXCODE>1</TAXCODE><AMT>23.60</AMT></ITEM></ITEMS>` +
	`<TOTALS><TOTALTAXEXCL>20.00</TOTALTAXEXCL><TOTALTAXINCL>23.60</TOTALTAXINCL>` +
	`<DISCOUNT>0.00</DISCOUNT></TOTALS><PAYMENTS><PMTTYPE>CASH</PMTTYPE><PMTAMOUNT>23.60</PMTAMOUNT>` +
	`</PAYMENTS><VATTOTALS><VATRATE>A</VATRATE><NETTAMOUNT>20.00</NETTAMOUNT>` +
	`<TAXAMOUNT>3.60</TAXAMOUNT></VATTOTALS></RCT>`

func testReceipt() *model.Receipt {
	sale := &model.Sale{
		ID: "S-1",
		Lines: []model.Line{{
			ProductID:   "P1",
			Description: "Soda",
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   decimal.NewFromInt(10),
			TaxCode:     model.TaxStandard,
		}},
	}
	issuer := model.Issuer{TIN: "109272930", RegID: "TZ0100553", EFDSerial: "10TZ100553", ReceiptCodePrefix: "C2A6AA"}
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)
	return model.BuildReceipt(sale, issuer, model.Counters{GC: 6, RCTNUM: 6, DC: 1, ZNUM: "20240305"}, at)
}

func TestEncodeReceipt_ElementOrder(t *testing.T) {

	body, err := EncodeReceipt(testReceipt())
	require.NoError(t, err)
	assert.Equal(t, expectedRCT, body)
}

func TestDecodeReceipt(t *testing.T) {

	r, err := DecodeReceipt(expectedRCT)
	require.NoError(t, err)

	assert.Equal(t, int64(6), r.GC)
	assert.Equal(t, "20240305", r.ZNUM)
	assert.Equal(t, "C2A6AA6", r.ReceiptCode)
	require.Len(t, r.Items, 1)
	assert.Equal(t, "23.6", r.Items[0].Amt.String())
	require.Len(t, r.Payments, 1)
	assert.Equal(t, model.PaymentCash, r.Payments[0].Type)
	require.Len(t, r.VATTotals, 1)
	assert.Equal(t, "3.6", r.VATTotals[0].TaxAmount.String())

	again, err := EncodeReceipt(r)
	require.NoError(t, err)
	assert.Equal(t, expectedRCT, again, "re-encoding must keep the signed order")
}

func TestStripDeclaration(t *testing.T) {

	assert.Equal(t, "<A>1</A>", StripDeclaration(`<?xml version="1.0" encoding="UTF-8"?>`+"\n<A>1</A>\n"))
	assert.Equal(t, "<A>1</A>", StripDeclaration("<A>1</A>"))
}

func TestSealOpen(t *testing.T) {

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pretty := `<?xml version="1.0" encoding="UTF-8"?>
<REGDATA>
  <TIN>109272930</TIN>
  <CERTKEY>10TZ100553</CERTKEY>
</REGDATA>`

	env, signed, err := Seal(pretty, key)
	require.NoError(t, err)

	assert.Equal(t, "<REGDATA><TIN>109272930</TIN><CERTKEY>10TZ100553</CERTKEY></REGDATA>", signed)
	assert.Contains(t, env, `<?xml version="1.0" encoding="UTF-8"?><EFDMS><REGDATA>`)

	body, sig, err := Open(env)
	require.NoError(t, err)
	assert.Equal(t, signed, body)
	assert.NoError(t, sign.Verify(body, sig, &key.PublicKey))
}

func TestOpen_Malformed(t *testing.T) {
	_, _, err := Open("<EFDMS><A/></EFDMS>")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecodeAck(t *testing.T) {

	rct := `<?xml version="1.0" encoding="UTF-8"?><EFDMS><RCTACK><RCTNUM>6</RCTNUM><DATE>2024-03-05</DATE>` +
		`<TIME>14:07:11</TIME><ACKCODE>0</ACKCODE><ACKMSG>Success</ACKMSG></RCTACK>` +
		`<EFDMSSIGNATURE>abc=</EFDMSSIGNATURE></EFDMS>`
	ack, err := DecodeAck(rct)
	require.NoError(t, err)
	assert.True(t, ack.OK())
	assert.Equal(t, "RCTACK", ack.Kind)
	assert.Equal(t, "6", ack.Number)

	z, err := DecodeAck(`<ZACK><ZNUMBER>20240305</ZNUMBER><ACKCODE>7</ACKCODE><ACKMSG>Invalid</ACKMSG></ZACK>`)
	require.NoError(t, err)
	assert.False(t, z.OK())
	assert.Equal(t, "20240305", z.Number)

	_, err = DecodeAck(`<RCTACK><ACKMSG>no code</ACKMSG></RCTACK>`)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeAck(`<html>Bad gateway</html>`)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = DecodeAck(`not xml at all`)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecodeRegistration(t *testing.T) {

	resp := `<?xml version="1.0" encoding="UTF-8"?><EFDMS><EFDMSRESP><ACKCODE>0</ACKCODE>` +
		`<ACKMSG>Registration Successful</ACKMSG><REGID>TZ0100553</REGID><SERIAL>10TZ100553</SERIAL>` +
		`<UIN>09VFDWEBAPI-10131758710TZ100553</UIN><TIN>109272930</TIN><VRN>40005334W</VRN>` +
		`<MOBILE>0713655545</MOBILE><STREET>MOROGORO</STREET><CITY>DAR</CITY><ADDRESS>P.O BOX 1</ADDRESS>` +
		`<COUNTRY>TANZANIA</COUNTRY><NAME>TEST TAXPAYER</NAME><RECEIPTCODE>C2A6AA</RECEIPTCODE>` +
		`<REGION>Ilala</REGION><ROUTINGKEY>vfdrct</ROUTINGKEY><GC>5</GC><TAXOFFICE>Tax Office Ilala</TAXOFFICE>` +
		`<USERNAME>babaabaa</USERNAME><PASSWORD>secret</PASSWORD><TOKENPATH>vfdtoken</TOKENPATH>` +
		`<TAXCODES><CODEA>18</CODEA><CODEB>0</CODEB><CODEC>0</CODEC><CODED>0</CODED></TAXCODES>` +
		`</EFDMSRESP><EFDMSSIGNATURE>sig</EFDMSSIGNATURE></EFDMS>`

	info, err := DecodeRegistration(resp)
	require.NoError(t, err)

	assert.Equal(t, "0", info.AckCode)
	assert.Equal(t, "TZ0100553", info.RegID)
	assert.Equal(t, "C2A6AA", info.ReceiptCode)
	assert.Equal(t, int64(5), info.GC)
	assert.Equal(t, "vfdtoken", info.TokenPath)
	assert.Equal(t, "18", info.TaxCodes["CODEA"])
}

func TestEncodeZReport(t *testing.T) {

	z := &model.ZReport{
		Date:             time.Date(2024, 3, 5, 23, 50, 0, 0, time.Local),
		Header:           []string{"TEST TAXPAYER", "P.O BOX 1"},
		VRN:              "40005334W",
		TIN:              "109272930",
		TaxOffice:        "Tax Office Ilala",
		RegID:            "TZ0100553",
		ZNumber:          "20240305",
		EFDSerial:        "10TZ100553",
		RegistrationDate: "2024-01-01",
		User:             "09VFDWEBAPI-10131758710TZ100553",
		Totals: model.ZTotals{
			DailyTotalAmount: decimal.RequireFromString("43.90"),
			Gross:            decimal.RequireFromString("43.90"),
			TicketsFiscal:    2,
		},
		VATTotals:  []model.ZVATTotal{{TaxCode: model.TaxStandard, NetAmount: decimal.RequireFromString("43.90"), TaxAmount: decimal.RequireFromString("7.90")}},
		Payments:   []model.Payment{{Type: model.PaymentCash, Amount: decimal.RequireFromString("51.80")}},
		FWVersion:  "3.0",
		FWChecksum: "WEBAPI",
	}

	body, err := EncodeZReport(z)
	require.NoError(t, err)

	assert.Contains(t, body, `<ZREPORT><DATE>2024-03-05</DATE><TIME>23:50:00</TIME><HEADER><LINE>TEST TAXPAYER</LINE>`)
	assert.Contains(t, body, `<USER>09VFDWEBAPI-10131758710TZ100553</USER><SIMIMSI>WEBAPI</SIMIMSI><TOTALS><DAILYTOTALAMOUNT>43.90</DAILYTOTALAMOUNT><GROSS>43.90</GROSS>`)
	assert.Contains(t, body, `<VATTOTALS><VATRATE>A-18.00</VATRATE><NETTAMOUNT>43.90</NETTAMOUNT><TAXAMOUNT>7.90</TAXAMOUNT></VATTOTALS>`)
	assert.Contains(t, body, `<CHANGES><VATCHANGENUM>0</VATCHANGENUM><HEADCHANGENUM>0</HEADCHANGENUM></CHANGES><ERRORS></ERRORS><FWVERSION>3.0</FWVERSION>`)
}
