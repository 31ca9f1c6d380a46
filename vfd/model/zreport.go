package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ZTotals aggregated daily figures.
type ZTotals struct {
	DailyTotalAmount decimal.Decimal `json:"dailyTotalAmount"`
	Gross            decimal.Decimal `json:"gross"`
	Corrections      decimal.Decimal `json:"corrections"`
	Discounts        decimal.Decimal `json:"discounts"`
	Surcharges       decimal.Decimal `json:"surcharges"`
	TicketsVoid      int64           `json:"ticketsVoid"`
	TicketsVoidTotal decimal.Decimal `json:"ticketsVoidTotal"`
	TicketsFiscal    int64           `json:"ticketsFiscal"`
	TicketsNonFiscal int64           `json:"ticketsNonFiscal"`
}

type ZVATTotal struct {
	TaxCode   TaxCode         `json:"taxCode"`
	NetAmount decimal.Decimal `json:"netAmount"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
}

// ZReport ZREPORT document for one fiscal day.
type ZReport struct {
	Date             time.Time
	Header           []string
	VRN              string
	TIN              string
	TaxOffice        string
	RegID            string
	ZNumber          string
	EFDSerial        string
	RegistrationDate string
	User             string
	Totals           ZTotals
	VATTotals        []ZVATTotal
	Payments         []Payment
	VATChangeNum     int
	HeadChangeNum    int
	Errors           string
	FWVersion        string
	FWChecksum       string
}

// DayAggregate what the Z-report scheduler persists per fiscal day.
type DayAggregate struct {
	Totals    ZTotals     `json:"totals"`
	VATTotals []ZVATTotal `json:"vatTotals"`
	Payments  []Payment   `json:"payments"`
}
