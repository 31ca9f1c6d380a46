package queue

import (
	"context"
	"fmt"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/alapierre/go-tra-vfd/vfd/ledger"
	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/alapierre/go-tra-vfd/vfd/qr"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Process runs one attempt for the in_progress job of saleID: reserve
// counters, build, sign and post the receipt, then commit on ack 0 or
// reschedule. Another attempt already running for the sale yields
// vfd.ErrAlreadyProcessing.
func (q *Queue) Process(ctx context.Context, saleID string) (Outcome, error) {
	if !q.locks.TryLock(saleID) {
		return OutcomeSkipped, vfd.ErrAlreadyProcessing
	}
	defer q.locks.Unlock(saleID)

	var jobs []store.ReceiptJob
	if err := q.db.WithContext(ctx).Where("sale_id = ?", saleID).Limit(1).Find(&jobs).Error; err != nil {
		return OutcomeSkipped, errors.Wrap(err, "load job")
	}
	if len(jobs) == 0 {
		return OutcomeSkipped, nil
	}
	job := &jobs[0]
	if job.Status != store.StatusInProgress {
		return OutcomeSkipped, nil
	}

	attempt := job.AttemptCount + 1
	log := logger.WithFields(logrus.Fields{"sale": saleID, "job": job.ID, "attempt": attempt})
	q.opts.Metrics.Attempt()

	res, err := q.ledger.ReserveNext(ctx, ledger.DocReceipt)
	if err != nil {
		return q.fail(ctx, job, attempt, err)
	}

	receipt := model.BuildReceipt(&job.Sale, q.issuer, res.Next, res.At)
	log = log.WithField("gc", res.Next.GC)

	now := q.clock.Now()
	job.Assign(res.Next)
	job.AttemptCount = attempt
	job.LastAttemptAt = &now
	if err := q.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"gc":              job.GC,
		"rctnum":          job.RCTNUM,
		"dc":              job.DC,
		"znum":            job.ZNUM,
		"attempt_count":   attempt,
		"last_attempt_at": now,
	}).Error; err != nil {
		q.ledger.Release(res)
		return q.fail(ctx, job, attempt, errors.Wrap(err, "record attempt"))
	}

	log.Debug("submitting receipt")
	sub, err := q.client.SubmitReceipt(ctx, receipt)
	if err != nil {
		q.ledger.Release(res)
		return q.fail(ctx, job, attempt, err)
	}

	payload, err := qr.Payload(q.opts.VerifyURL, receipt.ReceiptCode, receipt.Date)
	if err != nil {
		log.Warnf("qr payload: %v", err)
	}

	fr := &store.FiscalReceipt{
		GC:          receipt.GC,
		SaleID:      saleID,
		RCTNUM:      receipt.RCTNUM,
		DC:          receipt.DC,
		ZNUM:        receipt.ZNUM,
		ReceiptCode: receipt.ReceiptCode,
		IssuedAt:    receipt.Date,
		TaxExcl:     receipt.Totals.TaxExcl,
		TaxIncl:     receipt.Totals.TaxIncl,
		Discount:    receipt.Totals.Discount,
		VATTotals:   receipt.VATTotals,
		Payments:    receipt.Payments,
		QRPayload:   payload,
		SignedXML:   sub.SignedBody,
		AckDate:     sub.Ack.Date,
		AckTime:     sub.Ack.Time,
	}

	// TRA already holds the receipt, a shutdown must not lose the commit
	err = q.ledger.Commit(context.WithoutCancel(ctx), res, func(tx *gorm.DB) error {
		if err := tx.Create(fr).Error; err != nil {
			return errors.Wrap(err, "store fiscal receipt")
		}
		if err := tx.Delete(&store.ReceiptJob{}, "id = ?", job.ID).Error; err != nil {
			return errors.Wrap(err, "delete job")
		}
		return nil
	})
	if err != nil {
		// TRA holds this GC now; resending could duplicate it
		log.WithField("receiptCode", receipt.ReceiptCode).
			Errorf("receipt acknowledged but local commit failed, operator action required: %v", err)
		q.markTerminal(ctx, job, model.AckOK, fmt.Sprintf("acknowledged as %s but not committed: %v", receipt.ReceiptCode, err))
		q.opts.Metrics.Submission(string(OutcomeFailed))
		return OutcomeFailed, err
	}

	q.opts.Metrics.Submission(string(OutcomeAcknowledged))
	log.WithField("receiptCode", receipt.ReceiptCode).Info("receipt acknowledged")

	q.checkReportedDay(ctx, fr)
	q.afterCommit(ctx, fr, receipt)
	return OutcomeAcknowledged, nil
}

// checkReportedDay warns when the receipt landed in a fiscal day whose
// Z-report was already acknowledged; that report does not include it.
func (q *Queue) checkReportedDay(ctx context.Context, fr *store.FiscalReceipt) bool {
	var n int64
	err := q.db.WithContext(context.WithoutCancel(ctx)).Model(&store.ReportJob{}).
		Where("fiscal_day = ? AND sent = ?", fr.ZNUM, true).
		Count(&n).Error
	if err != nil {
		logger.WithField("sale", fr.SaleID).Warnf("check z-report state: %v", err)
		return false
	}
	if n == 0 {
		return false
	}
	logger.WithFields(logrus.Fields{"sale": fr.SaleID, "receiptCode": fr.ReceiptCode, "day": fr.ZNUM}).
		Warn("receipt committed into an already reported fiscal day, it is missing from that z-report")
	return true
}

// afterCommit hands the linkage to the invoicing side; failures there never
// undo a committed receipt.
func (q *Queue) afterCommit(ctx context.Context, fr *store.FiscalReceipt, r *model.Receipt) {
	d := InvoiceDetails{
		SaleID:      fr.SaleID,
		ReceiptCode: fr.ReceiptCode,
		GC:          fr.GC,
		RCTNUM:      fr.RCTNUM,
		DC:          fr.DC,
		ZNUM:        fr.ZNUM,
		IssuedAt:    r.Date,
		QRPayload:   fr.QRPayload,
		AckDate:     fr.AckDate,
		AckTime:     fr.AckTime,
	}

	if q.opts.QR != nil && fr.QRPayload != "" {
		img, err := q.opts.QR.Render(fr.QRPayload)
		if err != nil {
			logger.WithField("sale", fr.SaleID).Warnf("render qr: %v", err)
		}
		d.QRImage = img
	}

	if q.opts.Sink == nil {
		return
	}
	if err := q.opts.Sink.InsertInvoiceDetails(ctx, d); err != nil {
		logger.WithField("sale", fr.SaleID).Errorf("insert invoice details: %v", err)
	}
}

// fail reschedules the job or ends it. The update survives cancellation of
// ctx so a shutdown does not leave a stale in_progress row behind.
func (q *Queue) fail(ctx context.Context, job *store.ReceiptJob, attempt int, cause error) (Outcome, error) {
	code, _ := vfd.AckCode(cause)
	log := logger.WithFields(logrus.Fields{"sale": job.SaleID, "attempt": attempt, "ackCode": code})

	if terminal, reason := q.opts.Retry.Terminal(cause, attempt); terminal {
		log.Errorf("receipt failed permanently (%s): %v", reason, cause)
		q.markTerminal(ctx, job, code, fmt.Sprintf("%s: %v", reason, cause))
		q.opts.Metrics.Submission(string(OutcomeFailed))
		return OutcomeFailed, cause
	}

	next := q.clock.Now().Add(q.opts.Retry.Delay(attempt))
	err := q.db.WithContext(context.WithoutCancel(ctx)).Model(&store.ReceiptJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":          store.StatusQueued,
			"attempt_count":   attempt,
			"next_attempt_at": next,
			"last_error":      cause.Error(),
			"last_ack_code":   code,
		}).Error
	if err != nil {
		log.Errorf("reschedule job: %v", err)
	}

	log.WithField("next", next).Warnf("receipt attempt failed, retrying: %v", cause)
	q.opts.Metrics.Submission(string(OutcomeRetry))
	return OutcomeRetry, cause
}

func (q *Queue) markTerminal(ctx context.Context, job *store.ReceiptJob, code, reason string) {
	err := q.db.WithContext(context.WithoutCancel(ctx)).Model(&store.ReceiptJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":        store.StatusFailedTerminal,
			"last_error":    reason,
			"last_ack_code": code,
		}).Error
	if err != nil {
		logger.WithField("sale", job.SaleID).Errorf("mark job failed: %v", err)
	}
}
