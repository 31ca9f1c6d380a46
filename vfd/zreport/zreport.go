// Package zreport aggregates acknowledged receipts per fiscal day and sends
// the daily Z-report once per day.
package zreport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/alapierre/go-tra-vfd/vfd/ledger"
	"github.com/alapierre/go-tra-vfd/vfd/metrics"
	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/alapierre/go-tra-vfd/vfd/util"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var logger = logrus.WithField("component", "vfd.zreport")

const (
	DefaultAt            = 23*time.Hour + 50*time.Minute
	DefaultRetryInterval = 5 * time.Minute
)

// Submitter sends one signed Z-report, implemented by *vfd.VfdClient.
type Submitter interface {
	SubmitZReport(ctx context.Context, z *model.ZReport) (*vfd.Submission, error)
}

// DefaultHeader header line templates, rendered against model.Issuer
var DefaultHeader = []string{"TIN {{.TIN}}", "VRN {{.VRN}}", "SERIAL {{.EFDSerial}}"}

type Options struct {
	// At local time of day of the daily run, as an offset from midnight
	At            time.Duration
	RetryInterval time.Duration

	// Header line templates, see DefaultHeader
	Header           []string
	User             string
	RegistrationDate string
	FWVersion        string
	FWChecksum       string

	Clock   clockwork.Clock
	Metrics *metrics.Metrics
}

func (o *Options) defaults() {
	if o.At <= 0 || o.At >= 24*time.Hour {
		o.At = DefaultAt
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

type Scheduler struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	client Submitter
	issuer model.Issuer
	opts   Options
	clock  clockwork.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(db *gorm.DB, l *ledger.Ledger, client Submitter, issuer model.Issuer, opts Options) *Scheduler {
	opts.defaults()
	return &Scheduler{db: db, ledger: l, client: client, issuer: issuer, opts: opts, clock: opts.Clock}
}

// Aggregate sums the acknowledged receipts of day (YYYYMMDD).
func (s *Scheduler) Aggregate(ctx context.Context, day string) (*model.DayAggregate, error) {
	var receipts []store.FiscalReceipt
	if err := s.db.WithContext(ctx).Where("znum = ?", day).Order("gc").Find(&receipts).Error; err != nil {
		return nil, errors.Wrapf(err, "load receipts of %s", day)
	}

	agg := &model.DayAggregate{}
	vat := map[model.TaxCode]*model.ZVATTotal{}
	pay := map[model.PaymentType]decimal.Decimal{}

	for _, r := range receipts {
		agg.Totals.Gross = agg.Totals.Gross.Add(r.TaxExcl)
		agg.Totals.Discounts = agg.Totals.Discounts.Add(r.Discount)
		agg.Totals.TicketsFiscal++

		for _, v := range r.VATTotals {
			code := taxCode(v.Rate)
			t, ok := vat[code]
			if !ok {
				t = &model.ZVATTotal{TaxCode: code}
				vat[code] = t
			}
			t.NetAmount = t.NetAmount.Add(v.NetAmount)
			t.TaxAmount = t.TaxAmount.Add(v.TaxAmount)
		}
		for _, p := range r.Payments {
			pay[p.Type] = pay[p.Type].Add(p.Amount)
		}
	}
	agg.Totals.DailyTotalAmount = agg.Totals.Gross

	codes := make([]model.TaxCode, 0, len(vat))
	for c := range vat {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	for _, c := range codes {
		agg.VATTotals = append(agg.VATTotals, *vat[c])
	}

	types := make([]model.PaymentType, 0, len(pay))
	for t := range pay {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		agg.Payments = append(agg.Payments, model.Payment{Type: t, Amount: pay[t]})
	}

	return agg, nil
}

// taxCode inverse of TaxCode.Letter
func taxCode(letter string) model.TaxCode {
	if len(letter) != 1 {
		return 0
	}
	return model.TaxCode(letter[0]-'A') + 1
}

// Send submits the Z-report of day unless it was already acknowledged.
// Returns false without error for an already reported day.
func (s *Scheduler) Send(ctx context.Context, day string) (bool, error) {
	job, err := s.load(ctx, day)
	if err != nil {
		return false, err
	}
	if job.Sent {
		logger.WithField("day", day).Debug("z-report already sent")
		return false, nil
	}

	// receipts cannot commit while the day is being aggregated
	res, err := s.ledger.ReserveNext(ctx, ledger.DocZReport)
	if err != nil {
		return false, err
	}

	agg, err := s.Aggregate(ctx, day)
	if err != nil {
		s.ledger.Release(res)
		return false, err
	}

	job.Totals = *agg
	job.AttemptCount++
	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		s.ledger.Release(res)
		return false, errors.Wrap(err, "save report job")
	}

	log := logger.WithFields(logrus.Fields{"day": day, "attempt": job.AttemptCount, "tickets": agg.Totals.TicketsFiscal})

	z, err := s.build(day, agg)
	if err != nil {
		s.ledger.Release(res)
		return false, err
	}

	log.Info("sending z-report")
	sub, err := s.client.SubmitZReport(ctx, z)
	if err != nil {
		s.ledger.Release(res)
		code, _ := vfd.AckCode(err)
		uerr := s.db.WithContext(context.WithoutCancel(ctx)).Model(job).Updates(map[string]any{
			"last_error":    err.Error(),
			"last_ack_code": code,
		}).Error
		if uerr != nil {
			log.Errorf("record z-report failure: %v", uerr)
		}
		s.opts.Metrics.ZReport("failed")
		log.Warnf("z-report failed: %v", err)
		return false, err
	}

	now := s.clock.Now()
	err = s.ledger.Commit(context.WithoutCancel(ctx), res, func(tx *gorm.DB) error {
		return tx.Model(job).Updates(map[string]any{
			"sent":          true,
			"sent_at":       now,
			"signed_xml":    sub.SignedBody,
			"last_error":    "",
			"last_ack_code": sub.Ack.Code,
		}).Error
	})
	if err != nil {
		log.Errorf("z-report acknowledged but not recorded: %v", err)
		return true, errors.Wrap(err, "mark z-report sent")
	}

	s.opts.Metrics.ZReport("acknowledged")
	log.Info("z-report acknowledged")
	return true, nil
}

func (s *Scheduler) load(ctx context.Context, day string) (*store.ReportJob, error) {
	job := &store.ReportJob{FiscalDay: day}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(job).Error
	if err != nil {
		return nil, errors.Wrap(err, "create report job")
	}
	if err := s.db.WithContext(ctx).First(job, "fiscal_day = ?", day).Error; err != nil {
		return nil, errors.Wrap(err, "load report job")
	}
	return job, nil
}

// build renders the header line templates against the issuer.
func (s *Scheduler) build(day string, agg *model.DayAggregate) (*model.ZReport, error) {
	tpls := s.opts.Header
	if len(tpls) == 0 {
		tpls = DefaultHeader
	}
	header, err := util.MergeLines(tpls, s.issuer)
	if err != nil {
		return nil, errors.Wrap(err, "render z-report header")
	}
	return &model.ZReport{
		Date:             s.clock.Now(),
		Header:           header,
		VRN:              s.issuer.VRN,
		TIN:              s.issuer.TIN,
		TaxOffice:        s.issuer.TaxOffice,
		RegID:            s.issuer.RegID,
		ZNumber:          day,
		EFDSerial:        s.issuer.EFDSerial,
		RegistrationDate: s.opts.RegistrationDate,
		User:             s.opts.User,
		Totals:           agg.Totals,
		VATTotals:        agg.VATTotals,
		Payments:         agg.Payments,
		FWVersion:        s.opts.FWVersion,
		FWChecksum:       s.opts.FWChecksum,
	}, nil
}

// CatchUp sends every past day that has receipts but no acknowledged report.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	today := ledger.Day(s.clock.Now())

	var days []string
	err := s.db.WithContext(ctx).Model(&store.FiscalReceipt{}).
		Distinct("znum").
		Where("znum < ?", today).
		Where("znum NOT IN (?)", s.db.Model(&store.ReportJob{}).Select("fiscal_day").Where("sent = ?", true)).
		Order("znum").
		Pluck("znum", &days).Error
	if err != nil {
		return errors.Wrap(err, "find unreported days")
	}

	var failed error
	for _, day := range days {
		logger.WithField("day", day).Info("catching up missed z-report")
		if _, err := s.Send(ctx, day); err != nil && failed == nil {
			failed = err
		}
	}
	return failed
}

// Reports most recent report jobs first.
func (s *Scheduler) Reports(ctx context.Context, limit int) ([]store.ReportJob, error) {
	if limit <= 0 {
		limit = 30
	}
	var jobs []store.ReportJob
	err := s.db.WithContext(ctx).Omit("signed_xml").Order("fiscal_day desc").Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list report jobs")
	}
	return jobs, nil
}
