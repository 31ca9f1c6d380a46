package model

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Counters the fiscal sequence values a document is signed with
type Counters struct {
	GC     int64
	RCTNUM int64
	DC     int64
	ZNUM   string
}

type Item struct {
	ID      string
	Desc    string
	Qty     decimal.Decimal
	TaxCode TaxCode
	// Amt tax inclusive line amount
	Amt decimal.Decimal
}

type Totals struct {
	TaxExcl  decimal.Decimal
	TaxIncl  decimal.Decimal
	Discount decimal.Decimal
}

type VATTotal struct {
	Rate      string // tax code letter
	NetAmount decimal.Decimal
	TaxAmount decimal.Decimal
}

// Receipt RCT document.
type Receipt struct {
	Date      time.Time
	TIN       string
	RegID     string
	EFDSerial string
	Customer  Customer
	Counters
	// ReceiptCode RCTVNUM, registration prefix followed by GC
	ReceiptCode string
	Items       []Item
	Totals      Totals
	Payments    []Payment
	VATTotals   []VATTotal
}

// BuildReceipt computes line taxes and totals of sale and assigns the counters.
// With no payments the whole inclusive total is paid in cash.
func BuildReceipt(sale *Sale, issuer Issuer, c Counters, at time.Time) *Receipt {
	r := &Receipt{
		Date:        at,
		TIN:         issuer.TIN,
		RegID:       issuer.RegID,
		EFDSerial:   issuer.EFDSerial,
		Customer:    sale.Customer,
		Counters:    c,
		ReceiptCode: issuer.ReceiptCodePrefix + strconv.FormatInt(c.GC, 10),
	}
	if r.Customer.IDType == 0 {
		r.Customer.IDType = CustIDNone
	}

	vat := map[TaxCode]*VATTotal{}
	for _, l := range sale.Lines {
		excl, tax := l.Exclusive(), l.Tax()
		r.Items = append(r.Items, Item{
			ID:      l.ProductID,
			Desc:    l.Description,
			Qty:     l.Quantity,
			TaxCode: l.TaxCode,
			Amt:     excl.Add(tax),
		})
		r.Totals.TaxExcl = r.Totals.TaxExcl.Add(excl)
		r.Totals.TaxIncl = r.Totals.TaxIncl.Add(excl.Add(tax))

		v, ok := vat[l.TaxCode]
		if !ok {
			v = &VATTotal{Rate: l.TaxCode.Letter()}
			vat[l.TaxCode] = v
		}
		v.NetAmount = v.NetAmount.Add(excl)
		v.TaxAmount = v.TaxAmount.Add(tax)
	}
	r.Totals.Discount = sale.Discount

	codes := make([]TaxCode, 0, len(vat))
	for code := range vat {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, code := range codes {
		r.VATTotals = append(r.VATTotals, *vat[code])
	}

	if len(sale.Payments) == 0 {
		r.Payments = []Payment{{Type: PaymentCash, Amount: r.Totals.TaxIncl}}
	} else {
		r.Payments = append(r.Payments, sale.Payments...)
	}
	return r
}

// Issuer the registration identifiers printed on every document
type Issuer struct {
	TIN               string
	RegID             string
	EFDSerial         string
	ReceiptCodePrefix string
	VRN               string
	TaxOffice         string
	UIN               string
}
