package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildReceipt_Totals(t *testing.T) {

	sale := &Sale{
		ID: "S-1",
		Lines: []Line{
			{ProductID: "1", Description: "Bread", Quantity: d("2"), UnitPrice: d("5.00"), TaxCode: TaxStandard},
			{ProductID: "2", Description: "Milk", Quantity: d("1"), UnitPrice: d("8.90"), TaxCode: TaxExempt},
			{ProductID: "3", Description: "Eggs", Quantity: d("3"), UnitPrice: d("2.00"), TaxCode: TaxStandard},
		},
		Discount: d("1.00"),
	}
	require.NoError(t, sale.Validate())

	r := BuildReceipt(sale, Issuer{TIN: "1", ReceiptCodePrefix: "ABC"}, Counters{GC: 6, RCTNUM: 6, DC: 1, ZNUM: "20240305"}, time.Now())

	assert.Equal(t, "ABC6", r.ReceiptCode)
	assert.Equal(t, CustIDNone, r.Customer.IDType)

	assert.True(t, d("24.90").Equal(r.Totals.TaxExcl), r.Totals.TaxExcl.String())
	// (10 + 6) * 0.18 = 2.88
	assert.True(t, d("27.78").Equal(r.Totals.TaxIncl), r.Totals.TaxIncl.String())
	assert.True(t, d("11.80").Equal(r.Items[0].Amt))

	require.Len(t, r.VATTotals, 2)
	assert.Equal(t, "A", r.VATTotals[0].Rate)
	assert.True(t, d("16").Equal(r.VATTotals[0].NetAmount))
	assert.True(t, d("2.88").Equal(r.VATTotals[0].TaxAmount))
	assert.Equal(t, "E", r.VATTotals[1].Rate)

	require.Len(t, r.Payments, 1)
	assert.Equal(t, PaymentCash, r.Payments[0].Type)
	assert.True(t, r.Totals.TaxIncl.Equal(r.Payments[0].Amount))
}

func TestSale_Validate(t *testing.T) {

	assert.Error(t, (&Sale{ID: "x"}).Validate())
	assert.Error(t, (&Sale{ID: "x", Lines: []Line{{Quantity: d("1"), TaxCode: 9}}}).Validate())
	assert.Error(t, (&Sale{ID: "x", Lines: []Line{{Quantity: d("0"), TaxCode: 1}}}).Validate())
}

func TestTaxCode_Letter(t *testing.T) {
	assert.Equal(t, "A", TaxStandard.Letter())
	assert.Equal(t, "E", TaxExempt.Letter())
	assert.Equal(t, "?", TaxCode(0).Letter())
}
