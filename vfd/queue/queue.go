// Package queue submits receipts to TRA, one durable job per sale. A job row
// is written before any network call and removed in the transaction that
// commits the fiscal counters.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/alapierre/go-tra-vfd/vfd/ledger"
	"github.com/alapierre/go-tra-vfd/vfd/metrics"
	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/alapierre/go-tra-vfd/vfd/mutex"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var logger = logrus.WithField("component", "vfd.queue")

var (
	ErrJobNotFound = errors.New("no fiscal job for this sale")
	ErrNotFailed   = errors.New("job is not in failed state")
)

// Submitter sends one signed receipt, implemented by *vfd.VfdClient.
type Submitter interface {
	SubmitReceipt(ctx context.Context, r *model.Receipt) (*vfd.Submission, error)
}

// SaleSource reads a sale from the invoicing side.
type SaleSource interface {
	FetchSaleByID(ctx context.Context, saleID string) (*model.Sale, error)
}

// InvoiceDetails sale to fiscal receipt linkage handed to the invoicing side.
type InvoiceDetails struct {
	SaleID      string
	ReceiptCode string
	GC          int64
	RCTNUM      int64
	DC          int64
	ZNUM        string
	IssuedAt    time.Time
	QRPayload   string
	QRImage     []byte
	AckDate     string
	AckTime     string
}

type InvoiceSink interface {
	InsertInvoiceDetails(ctx context.Context, d InvoiceDetails) error
}

type QRRenderer interface {
	Render(payload string) ([]byte, error)
}

type Outcome string

const (
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeRetry        Outcome = "retry"
	OutcomeFailed       Outcome = "failed_terminal"
	OutcomeSkipped      Outcome = "skipped"
)

type Options struct {
	Retry        RetryPolicy
	Workers      int
	PollInterval time.Duration
	// VerifyURL prefix of the QR payload
	VerifyURL string

	Clock   clockwork.Clock
	Metrics *metrics.Metrics
	Sales   SaleSource
	Sink    InvoiceSink
	QR      QRRenderer
}

func (o *Options) defaults() {
	if o.Retry.Interval <= 0 && o.Retry.Strategy == "" && o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

type Queue struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	client Submitter
	issuer model.Issuer
	opts   Options
	clock  clockwork.Clock

	locks mutex.KeyedMutex[string]
	work  chan string

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(db *gorm.DB, l *ledger.Ledger, client Submitter, issuer model.Issuer, opts Options) *Queue {
	opts.defaults()
	return &Queue{
		db:     db,
		ledger: l,
		client: client,
		issuer: issuer,
		opts:   opts,
		clock:  opts.Clock,
		work:   make(chan string, 256),
	}
}

// SubmitSale fetches the sale and submits it.
func (q *Queue) SubmitSale(ctx context.Context, saleID string) (*store.ReceiptJob, error) {
	if q.opts.Sales == nil {
		return nil, errors.New("no sale source configured")
	}
	sale, err := q.opts.Sales.FetchSaleByID(ctx, saleID)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch sale %s", saleID)
	}
	return q.Submit(ctx, saleID, sale)
}

// Submit records an in_progress job for the sale and hands it to the workers
// when the queue runs. A sale with a queued or in_progress job is rejected
// with vfd.ErrAlreadyProcessing, an acknowledged sale with
// vfd.ErrAlreadyAcknowledged. A failed_terminal job is reset.
func (q *Queue) Submit(ctx context.Context, saleID string, sale *model.Sale) (*store.ReceiptJob, error) {
	if saleID == "" {
		return nil, errors.New("sale id is required")
	}
	if sale == nil {
		return nil, errors.New("sale is nil")
	}
	if sale.ID == "" {
		sale.ID = saleID
	}
	if err := sale.Validate(); err != nil {
		return nil, err
	}

	now := q.clock.Now()
	var job store.ReceiptJob

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acked int64
		if err := tx.Model(&store.FiscalReceipt{}).Where("sale_id = ?", saleID).Count(&acked).Error; err != nil {
			return errors.Wrap(err, "check fiscal receipt")
		}
		if acked > 0 {
			return vfd.ErrAlreadyAcknowledged
		}

		var existing []store.ReceiptJob
		if err := tx.Where("sale_id = ?", saleID).Limit(1).Find(&existing).Error; err != nil {
			return errors.Wrap(err, "find job")
		}

		if len(existing) == 1 {
			job = existing[0]
			switch job.Status {
			case store.StatusFailedTerminal:
				logger.WithField("sale", saleID).Info("resubmitting failed sale")
			case store.StatusAcknowledged:
				return vfd.ErrAlreadyAcknowledged
			default:
				return vfd.ErrAlreadyProcessing
			}
			job.Sale = *sale
			job.Status = store.StatusInProgress
			job.AttemptCount = 0
			job.LastError = ""
			job.LastAckCode = ""
			job.NextAttemptAt = now
			return tx.Save(&job).Error
		}

		job = store.ReceiptJob{
			ID:            uuid.New(),
			SaleID:        saleID,
			Status:        store.StatusInProgress,
			Sale:          *sale,
			NextAttemptAt: now,
		}
		return tx.Create(&job).Error
	})
	if err != nil {
		if errors.Is(err, vfd.ErrAlreadyProcessing) || errors.Is(err, vfd.ErrAlreadyAcknowledged) {
			return nil, err
		}
		// lost a race on the unique sale index
		if q.jobExists(ctx, saleID) {
			return nil, vfd.ErrAlreadyProcessing
		}
		return nil, errors.Wrap(err, "insert job")
	}

	logger.WithFields(logrus.Fields{"sale": saleID, "job": job.ID}).Info("receipt job created")
	q.dispatch(saleID)
	return &job, nil
}

func (q *Queue) jobExists(ctx context.Context, saleID string) bool {
	var n int64
	if err := q.db.WithContext(ctx).Model(&store.ReceiptJob{}).Where("sale_id = ?", saleID).Count(&n).Error; err != nil {
		return false
	}
	return n > 0
}

// Retry moves a failed_terminal job back to queued. Operator action.
func (q *Queue) Retry(ctx context.Context, saleID string) error {
	res := q.db.WithContext(ctx).Model(&store.ReceiptJob{}).
		Where("sale_id = ? AND status = ?", saleID, store.StatusFailedTerminal).
		Updates(map[string]any{
			"status":          store.StatusQueued,
			"attempt_count":   0,
			"last_error":      "",
			"next_attempt_at": q.clock.Now(),
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "requeue job")
	}
	if res.RowsAffected == 0 {
		if q.jobExists(ctx, saleID) {
			return ErrNotFailed
		}
		return ErrJobNotFound
	}
	logger.WithField("sale", saleID).Info("failed job requeued by operator")
	return nil
}
