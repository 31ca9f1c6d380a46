package store

import (
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type JobStatus string

const (
	StatusQueued         JobStatus = "queued"
	StatusInProgress     JobStatus = "in_progress"
	StatusAcknowledged   JobStatus = "acknowledged"
	StatusFailedTerminal JobStatus = "failed_terminal"
)

// countersID primary key of the singleton counters row
const countersID = 1

// Counters persisted fiscal sequence, one row per credential.
type Counters struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false"`
	GC        int64  `gorm:"not null"`
	RCTNUM    int64  `gorm:"column:rctnum;not null"`
	DC        int64  `gorm:"column:dc;not null"`
	ZNUM      string `gorm:"column:znum;type:varchar(8);not null;default:''"`
	UpdatedAt time.Time
}

func (Counters) TableName() string {
	return "fiscal_counters"
}

func (c *Counters) Model() model.Counters {
	return model.Counters{GC: c.GC, RCTNUM: c.RCTNUM, DC: c.DC, ZNUM: c.ZNUM}
}

// ReceiptJob one fiscal submission per sale. The unique sale index keeps
// at most one job row per sale.
type ReceiptJob struct {
	ID     uuid.UUID  `gorm:"type:varchar(36);primaryKey"`
	SaleID string     `gorm:"type:varchar(64);uniqueIndex;not null"`
	Status JobStatus  `gorm:"type:varchar(20);not null;index"`
	Sale   model.Sale `gorm:"type:text;serializer:json"`

	// counters of the last attempt, nil until the first reservation
	GC     *int64
	RCTNUM *int64  `gorm:"column:rctnum"`
	DC     *int64  `gorm:"column:dc"`
	ZNUM   *string `gorm:"column:znum;type:varchar(8)"`

	AttemptCount  int       `gorm:"not null;default:0"`
	LastAckCode   string    `gorm:"type:varchar(16)"`
	LastError     string    `gorm:"type:text"`
	NextAttemptAt time.Time `gorm:"index"`
	LastAttemptAt *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (ReceiptJob) TableName() string {
	return "receipt_jobs"
}

// Assign records the counters used by the current attempt.
func (j *ReceiptJob) Assign(c model.Counters) {
	gc, rct, dc, z := c.GC, c.RCTNUM, c.DC, c.ZNUM
	j.GC, j.RCTNUM, j.DC, j.ZNUM = &gc, &rct, &dc, &z
}

// FiscalReceipt an acknowledged receipt. Source of Z-reports and of the
// sale to receipt linkage.
type FiscalReceipt struct {
	GC          int64           `gorm:"primaryKey;autoIncrement:false"`
	SaleID      string          `gorm:"type:varchar(64);uniqueIndex;not null"`
	RCTNUM      int64           `gorm:"column:rctnum;not null"`
	DC          int64           `gorm:"column:dc;not null"`
	ZNUM        string          `gorm:"column:znum;type:varchar(8);not null;index"`
	ReceiptCode string          `gorm:"type:varchar(64);not null"`
	IssuedAt    time.Time       `gorm:"not null"`
	TaxExcl     decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TaxIncl     decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Discount    decimal.Decimal `gorm:"type:decimal(18,2);not null"`

	VATTotals []model.VATTotal `gorm:"type:text;serializer:json"`
	Payments  []model.Payment  `gorm:"type:text;serializer:json"`

	QRPayload string    `gorm:"type:varchar(255)"`
	SignedXML string    `gorm:"type:text"`
	AckDate   string    `gorm:"type:varchar(10)"`
	AckTime   string    `gorm:"type:varchar(8)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (FiscalReceipt) TableName() string {
	return "fiscal_receipts"
}

// ReportJob Z-report state of one fiscal day; Sent guards against resending.
type ReportJob struct {
	FiscalDay    string             `gorm:"type:varchar(8);primaryKey"`
	Totals       model.DayAggregate `gorm:"type:text;serializer:json"`
	Sent         bool               `gorm:"not null;default:false;index"`
	SentAt       *time.Time
	AttemptCount int       `gorm:"not null;default:0"`
	LastAckCode  string    `gorm:"type:varchar(16)"`
	LastError    string    `gorm:"type:text"`
	SignedXML    string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (ReportJob) TableName() string {
	return "report_jobs"
}

// Registration data returned by TRA on device registration.
type Registration struct {
	ID           uint `gorm:"primaryKey;autoIncrement:false"`
	RegID        string
	Serial       string
	UIN          string
	TIN          string
	VRN          string
	Mobile       string
	Street       string
	City         string
	Address      string
	Country      string
	Name         string
	ReceiptCode  string
	Region       string
	RoutingKey   string
	InitialGC    int64
	TaxOffice    string
	Username     string
	Password     string
	TokenPath    string
	TaxCodes     map[string]string `gorm:"type:text;serializer:json"`
	RegisteredAt time.Time
}

func (Registration) TableName() string {
	return "vfd_registration"
}

// RegistrationFromInfo maps an EFDMSRESP to its persisted form.
func RegistrationFromInfo(info *model.RegistrationInfo, at time.Time) *Registration {
	return &Registration{
		ID:           countersID,
		RegID:        info.RegID,
		Serial:       info.Serial,
		UIN:          info.UIN,
		TIN:          info.TIN,
		VRN:          info.VRN,
		Mobile:       info.Mobile,
		Street:       info.Street,
		City:         info.City,
		Address:      info.Address,
		Country:      info.Country,
		Name:         info.Name,
		ReceiptCode:  info.ReceiptCode,
		Region:       info.Region,
		RoutingKey:   info.RoutingKey,
		InitialGC:    info.GC,
		TaxOffice:    info.TaxOffice,
		Username:     info.Username,
		Password:     info.Password,
		TokenPath:    info.TokenPath,
		TaxCodes:     info.TaxCodes,
		RegisteredAt: at,
	}
}

// Issuer identifiers printed on documents.
func (r *Registration) Issuer() model.Issuer {
	return model.Issuer{
		TIN:               r.TIN,
		RegID:             r.RegID,
		EFDSerial:         r.Serial,
		ReceiptCodePrefix: r.ReceiptCode,
		VRN:               r.VRN,
		TaxOffice:         r.TaxOffice,
		UIN:               r.UIN,
	}
}
