package queue

import (
	"context"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
)

// claimBatch max jobs taken by one ProcessDue pass
const claimBatch = 64

// dispatch hands saleID to the workers. No-op while the queue is stopped;
// the poll loop or Resume picks the job up later.
func (q *Queue) dispatch(saleID string) {
	q.mu.Lock()
	running, stop := q.running, q.stop
	q.mu.Unlock()
	if !running {
		return
	}

	select {
	case q.work <- saleID:
	default:
		go func() {
			select {
			case q.work <- saleID:
			case <-stop:
			}
		}()
	}
}

// ProcessDue claims queued jobs whose retry time has come and runs one
// attempt for each. Returns the number of claimed jobs.
func (q *Queue) ProcessDue(ctx context.Context) (int, error) {
	ids, err := q.claimDue(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return len(ids), ctx.Err()
		}
		if _, err := q.Process(ctx, id); err != nil {
			logger.WithField("sale", id).Debugf("attempt finished with error: %v", err)
		}
	}
	return len(ids), nil
}

func (q *Queue) claimDue(ctx context.Context) ([]string, error) {
	var due []store.ReceiptJob
	err := q.db.WithContext(ctx).
		Select("id", "sale_id").
		Where("status = ? AND next_attempt_at <= ?", store.StatusQueued, q.clock.Now()).
		Order("next_attempt_at").
		Limit(claimBatch).
		Find(&due).Error
	if err != nil {
		return nil, errors.Wrap(err, "find due jobs")
	}

	ids := make([]string, 0, len(due))
	for _, j := range due {
		res := q.db.WithContext(ctx).Model(&store.ReceiptJob{}).
			Where("id = ? AND status = ?", j.ID, store.StatusQueued).
			Update("status", store.StatusInProgress)
		if res.Error != nil {
			return ids, errors.Wrap(res.Error, "claim job")
		}
		if res.RowsAffected == 1 {
			ids = append(ids, j.SaleID)
		}
	}
	return ids, nil
}

// Resume re-runs every job left in_progress, typically by a process that
// died mid-attempt. Nothing was committed for such an attempt, so the job
// starts over with a fresh reservation.
func (q *Queue) Resume(ctx context.Context) (int, error) {
	var ids []string
	err := q.db.WithContext(ctx).Model(&store.ReceiptJob{}).
		Where("status = ?", store.StatusInProgress).
		Order("created_at").
		Pluck("sale_id", &ids).Error
	if err != nil {
		return 0, errors.Wrap(err, "find in-progress jobs")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	logger.Infof("resuming %d in-progress receipt jobs", len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.opts.Workers)
	for _, id := range ids {
		g.Go(func() error {
			_, err := q.Process(gctx, id)
			if err != nil && !errors.Is(err, vfd.ErrAlreadyProcessing) {
				logger.WithField("sale", id).Debugf("resumed attempt failed: %v", err)
			}
			return nil
		})
	}
	return len(ids), g.Wait()
}

// Start resumes interrupted jobs and runs the workers and the poll loop
// until Stop is called or ctx ends.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.stop = make(chan struct{})
	q.running = true

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Resume(ctx); err != nil {
			logger.Errorf("resume: %v", err)
		}
		q.poll(ctx)
	}()

	logger.WithField("workers", q.opts.Workers).Info("receipt queue started")
	return nil
}

// Stop cancels in-flight attempts and waits for the workers, bounded by ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	close(q.stop)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("receipt queue stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for workers")
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.work:
			if _, err := q.Process(ctx, id); err != nil && !errors.Is(err, vfd.ErrAlreadyProcessing) {
				logger.WithField("sale", id).Debugf("attempt failed: %v", err)
			}
		}
	}
}

func (q *Queue) poll(ctx context.Context) {
	ticker := q.clock.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			ids, err := q.claimDue(ctx)
			if err != nil {
				logger.Errorf("poll: %v", err)
				continue
			}
			for _, id := range ids {
				q.dispatch(id)
			}
			q.refreshGauges(ctx)
		}
	}
}

func (q *Queue) refreshGauges(ctx context.Context) {
	if q.opts.Metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s, err := q.Stats(ctx)
	if err != nil {
		logger.Warnf("job stats: %v", err)
		return
	}
	q.opts.Metrics.SetJobs(string(store.StatusQueued), s.Pending)
	q.opts.Metrics.SetJobs(string(store.StatusInProgress), s.Processing)
	q.opts.Metrics.SetJobs(string(store.StatusFailedTerminal), s.Failed)
}
