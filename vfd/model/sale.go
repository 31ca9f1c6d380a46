package model

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// CustomerIDType CUSTIDTYPE values accepted by TRA
type CustomerIDType int

const (
	CustIDTIN            CustomerIDType = 1
	CustIDDrivingLicense CustomerIDType = 2
	CustIDVotersNumber   CustomerIDType = 3
	CustIDPassport       CustomerIDType = 4
	CustIDNationalID     CustomerIDType = 5
	CustIDNone           CustomerIDType = 6
)

type PaymentType string

const (
	PaymentCash    PaymentType = "CASH"
	PaymentCheque  PaymentType = "CHEQUE"
	PaymentCard    PaymentType = "CCARD"
	PaymentEMoney  PaymentType = "EMONEY"
	PaymentInvoice PaymentType = "INVOICE"
)

// TaxCode TRA tax group, 1..5 map to letters A..E
type TaxCode int

const (
	TaxStandard      TaxCode = 1
	TaxSpecialRate   TaxCode = 2
	TaxZeroRated     TaxCode = 3
	TaxSpecialRelief TaxCode = 4
	TaxExempt        TaxCode = 5
)

var taxRates = map[TaxCode]decimal.Decimal{
	TaxStandard:      decimal.RequireFromString("18"),
	TaxSpecialRate:   decimal.RequireFromString("10"),
	TaxZeroRated:     decimal.Zero,
	TaxSpecialRelief: decimal.Zero,
	TaxExempt:        decimal.Zero,
}

func (c TaxCode) Valid() bool {
	_, ok := taxRates[c]
	return ok
}

// Percent rate in percent, e.g. 18 for code 1.
func (c TaxCode) Percent() decimal.Decimal {
	return taxRates[c]
}

// Rate as a fraction, e.g. 0.18 for code 1.
func (c TaxCode) Rate() decimal.Decimal {
	return taxRates[c].Div(decimal.NewFromInt(100))
}

// Letter used in VATTOTALS of the receipt and the Z-report.
func (c TaxCode) Letter() string {
	if !c.Valid() {
		return "?"
	}
	return string(rune('A' + int(c) - 1))
}

type Customer struct {
	IDType CustomerIDType `json:"idType"`
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Mobile string         `json:"mobile"`
}

// Line one sold item; UnitPrice is tax exclusive
type Line struct {
	ProductID   string          `json:"productId"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxCode     TaxCode         `json:"taxCode"`
}

// Exclusive line amount before tax.
func (l Line) Exclusive() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Tax = exclusive * rate
func (l Line) Tax() decimal.Decimal {
	return l.Exclusive().Mul(l.TaxCode.Rate())
}

func (l Line) Inclusive() decimal.Decimal {
	return l.Exclusive().Add(l.Tax())
}

type Payment struct {
	Type   PaymentType     `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// Sale the payload of a receipt job, as fetched from the invoicing side.
type Sale struct {
	ID       string          `json:"id"`
	Customer Customer        `json:"customer"`
	Lines    []Line          `json:"lines"`
	Discount decimal.Decimal `json:"discount"`
	Payments []Payment       `json:"payments,omitempty"`
	SoldAt   time.Time       `json:"soldAt"`
}

func (s *Sale) Validate() error {
	if s == nil {
		return errors.New("sale is nil")
	}
	if len(s.Lines) == 0 {
		return errors.Errorf("sale %s has no lines", s.ID)
	}
	for i, l := range s.Lines {
		if !l.TaxCode.Valid() {
			return errors.Errorf("sale %s line %d: invalid tax code %d", s.ID, i+1, l.TaxCode)
		}
		if !l.Quantity.IsPositive() {
			return errors.Errorf("sale %s line %d: quantity must be positive", s.ID, i+1)
		}
		if l.UnitPrice.IsNegative() {
			return errors.Errorf("sale %s line %d: negative price", s.ID, i+1)
		}
	}
	return nil
}
