package queue

import (
	"context"

	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/go-faster/errors"
)

// StateNone sale never submitted
const StateNone = "none"

// SaleStatus fiscal state of one sale as shown by the UI.
type SaleStatus struct {
	SaleID  string               `json:"saleId"`
	State   string               `json:"state"`
	Job     *store.ReceiptJob    `json:"job,omitempty"`
	Receipt *store.FiscalReceipt `json:"receipt,omitempty"`
	// CanSubmit false while a job is queued or in progress and after acknowledgment
	CanSubmit bool `json:"canSubmit"`
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
}

func (q *Queue) Status(ctx context.Context, saleID string) (*SaleStatus, error) {
	st := &SaleStatus{SaleID: saleID, State: StateNone, CanSubmit: true}

	var receipts []store.FiscalReceipt
	if err := q.db.WithContext(ctx).Where("sale_id = ?", saleID).Limit(1).Find(&receipts).Error; err != nil {
		return nil, errors.Wrap(err, "load fiscal receipt")
	}
	if len(receipts) == 1 {
		st.State = string(store.StatusAcknowledged)
		st.Receipt = &receipts[0]
		st.CanSubmit = false
		return st, nil
	}

	var jobs []store.ReceiptJob
	if err := q.db.WithContext(ctx).Where("sale_id = ?", saleID).Limit(1).Find(&jobs).Error; err != nil {
		return nil, errors.Wrap(err, "load job")
	}
	if len(jobs) == 1 {
		st.Job = &jobs[0]
		st.State = string(st.Job.Status)
		st.CanSubmit = st.Job.Status == store.StatusFailedTerminal
	}
	return st, nil
}

// Stats job counts per state plus the number of acknowledged receipts.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	type row struct {
		Status store.JobStatus
		N      int64
	}
	var rows []row
	err := q.db.WithContext(ctx).Model(&store.ReceiptJob{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count jobs")
	}

	s := &Stats{}
	for _, r := range rows {
		switch r.Status {
		case store.StatusQueued:
			s.Pending = r.N
		case store.StatusInProgress:
			s.Processing = r.N
		case store.StatusFailedTerminal:
			s.Failed = r.N
		}
	}
	if err := q.db.WithContext(ctx).Model(&store.FiscalReceipt{}).Count(&s.Succeeded).Error; err != nil {
		return nil, errors.Wrap(err, "count receipts")
	}
	return s, nil
}
