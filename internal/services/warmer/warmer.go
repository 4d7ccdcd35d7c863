// Package warmer keeps lookup views hot: every committed shipment write is
// announced on Kafka and reloaded into the cache here, so the first customer
// lookup after an update does not hit Postgres.
package warmer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/shipledger/internal/broker/messages"
	"github.com/BearBump/shipledger/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Consumer delivers decoded messages; malformed ones never reach the handler.
type Consumer interface {
	ConsumeShipmentUpdates(ctx context.Context, handle func(ctx context.Context, m messages.ShipmentUpdated) error) error
}

type ViewWarmer interface {
	Warm(ctx context.Context, trackingID string) error
}

type Warmer struct {
	consumer Consumer
	views    ViewWarmer
	log      *zap.Logger

	startedAtUnixNano   int64
	lastMessageUnixNano atomic.Int64
	totalConsumed       atomic.Int64
	totalWarmed         atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(consumer Consumer, views ViewWarmer, log *zap.Logger) *Warmer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Warmer{
		consumer:          consumer,
		views:             views,
		log:               log,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	TotalConsumed int64      `json:"totalConsumed"`
	TotalWarmed   int64      `json:"totalWarmed"`
	TotalSkipped  int64      `json:"totalSkipped"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (w *Warmer) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalConsumed: w.totalConsumed.Load(),
		TotalWarmed:   w.totalWarmed.Load(),
		TotalSkipped:  w.totalSkipped.Load(),
		TotalErrors:   w.totalErrors.Load(),
	}
	if n := w.lastMessageUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastMessageAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

// Run blocks until ctx is done or the handler hits a store error; in the
// latter case the message stays uncommitted and is redelivered after restart.
func (w *Warmer) Run(ctx context.Context) error {
	err := w.consumer.ConsumeShipmentUpdates(ctx, w.handle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (w *Warmer) handle(ctx context.Context, m messages.ShipmentUpdated) error {
	w.totalConsumed.Add(1)
	w.lastMessageUnixNano.Store(time.Now().UTC().UnixNano())

	err := w.views.Warm(ctx, m.TrackingID)
	if errors.Is(err, models.ErrNotFound) {
		w.totalSkipped.Add(1)
		w.log.Warn("shipment from message not found", zap.String("tracking_id", m.TrackingID))
		return nil
	}
	if err != nil {
		w.totalErrors.Add(1)
		w.lastErrorMu.Lock()
		w.lastError = err.Error()
		w.lastErrorMu.Unlock()
		return errors.Wrapf(err, "warm %s", m.TrackingID)
	}

	w.totalWarmed.Add(1)
	w.log.Debug("view warmed",
		zap.String("tracking_id", m.TrackingID),
		zap.String("kind", m.Kind),
		zap.String("event_id", m.EventID))
	return nil
}
