// Package ledger owns the fiscal counters. Counters are read at reservation
// and written only by Commit, after the authority acknowledged the document.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var logger = logrus.WithField("component", "vfd.ledger")

var (
	ErrNotBootstrapped = errors.New("fiscal counters are not initialized")
	// ErrConflict persisted counters changed under a reservation
	ErrConflict = errors.New("fiscal counters changed since reservation")
	// ErrReleased the reservation was already committed or released
	ErrReleased = errors.New("reservation already released")
)

const dayLayout = "20060102"

type DocType int

const (
	DocReceipt DocType = iota
	// DocZReport holds the lease without advancing the sequence
	DocZReport
)

func (d DocType) String() string {
	if d == DocZReport {
		return "zreport"
	}
	return "receipt"
}

// Reservation tentative counters plus the single-writer lease. Exactly one
// of Commit or Release must be called.
type Reservation struct {
	Doc  DocType
	Next model.Counters
	// At clock reading the fiscal day was derived from
	At time.Time

	base store.Counters
	once sync.Once
	l    *Ledger
}

type Ledger struct {
	db    *gorm.DB
	clock clockwork.Clock
	lease chan struct{}
}

func New(db *gorm.DB, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{db: db, clock: clock, lease: make(chan struct{}, 1)}
}

// Bootstrap creates the counters row with GC and RCTNUM set to initialGC when
// it does not exist yet. Existing counters are never overwritten.
func (l *Ledger) Bootstrap(ctx context.Context, initialGC int64) (model.Counters, error) {
	if initialGC < 0 {
		return model.Counters{}, errors.Errorf("initial GC must not be negative, got %d", initialGC)
	}
	var row store.Counters
	err := l.db.WithContext(ctx).
		Attrs(store.Counters{GC: initialGC, RCTNUM: initialGC}).
		FirstOrCreate(&row, store.Counters{ID: 1}).Error
	if err != nil {
		return model.Counters{}, errors.Wrap(err, "bootstrap counters")
	}
	logger.WithFields(logrus.Fields{"gc": row.GC, "znum": row.ZNUM}).Info("fiscal counters ready")
	return row.Model(), nil
}

// Current persisted counters.
func (l *Ledger) Current(ctx context.Context) (model.Counters, error) {
	row, err := l.load(l.db.WithContext(ctx))
	if err != nil {
		return model.Counters{}, err
	}
	return row.Model(), nil
}

func (l *Ledger) load(db *gorm.DB) (store.Counters, error) {
	var rows []store.Counters
	if err := db.Limit(1).Find(&rows, 1).Error; err != nil {
		return store.Counters{}, errors.Wrap(err, "load counters")
	}
	if len(rows) == 0 {
		return store.Counters{}, ErrNotBootstrapped
	}
	return rows[0], nil
}

// Day fiscal day marker of t.
func Day(t time.Time) string {
	return t.Format(dayLayout)
}

// ReserveNext waits for the lease and computes the counters the next document
// will carry. Nothing is persisted.
func (l *Ledger) ReserveNext(ctx context.Context, doc DocType) (*Reservation, error) {
	select {
	case l.lease <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "wait for ledger lease")
	}

	cur, err := l.load(l.db.WithContext(ctx))
	if err != nil {
		<-l.lease
		return nil, err
	}

	now := l.clock.Now()
	next := cur.Model()
	if doc == DocReceipt {
		day := Day(now)
		next.GC++
		next.RCTNUM++
		if day != cur.ZNUM {
			next.DC = 1
		} else {
			next.DC++
		}
		next.ZNUM = day
	}

	logger.WithFields(logrus.Fields{
		"doc": doc.String(), "gc": next.GC, "dc": next.DC, "znum": next.ZNUM,
	}).Debug("counters reserved")

	return &Reservation{Doc: doc, Next: next, At: now, base: cur, l: l}, nil
}

// Commit persists the reserved counters and runs fn in the same transaction,
// then drops the lease. Nothing is written when fn fails.
func (l *Ledger) Commit(ctx context.Context, res *Reservation, fn func(tx *gorm.DB) error) error {
	if res == nil || res.l != l {
		return errors.New("reservation does not belong to this ledger")
	}

	var released bool
	var err error
	res.once.Do(func() {
		released = true
		defer func() { <-l.lease }()
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if res.Doc == DocReceipt {
				if err := l.advance(tx, res); err != nil {
					return err
				}
			}
			if fn != nil {
				return fn(tx)
			}
			return nil
		})
	})
	if !released {
		return ErrReleased
	}
	if err != nil {
		return err
	}

	if res.Doc == DocReceipt {
		logger.WithFields(logrus.Fields{"gc": res.Next.GC, "dc": res.Next.DC, "znum": res.Next.ZNUM}).
			Info("counters committed")
	}
	return nil
}

func (l *Ledger) advance(tx *gorm.DB, res *Reservation) error {
	n := res.Next
	result := tx.Model(&store.Counters{}).
		Where("id = ? AND gc = ? AND rctnum = ?", 1, res.base.GC, res.base.RCTNUM).
		Updates(map[string]any{
			"gc":         n.GC,
			"rctnum":     n.RCTNUM,
			"dc":         n.DC,
			"znum":       n.ZNUM,
			"updated_at": l.clock.Now(),
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "update counters")
	}
	if result.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}

// Release drops the lease without persisting anything. Safe to call after Commit.
func (l *Ledger) Release(res *Reservation) {
	if res == nil {
		return
	}
	res.once.Do(func() {
		<-l.lease
		logger.WithField("gc", res.Next.GC).Debug("reservation released")
	})
}
