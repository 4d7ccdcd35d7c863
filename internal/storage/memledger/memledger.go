// Package memledger is an in-process storage.Store. Transactions are
// serialised under one mutex and staged until fn returns nil.
package memledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/BearBump/shipledger/internal/storage"
	"github.com/pkg/errors"
)

var ErrInjectedFailure = errors.New("injected write failure")

type Store struct {
	mu        sync.Mutex
	shipments map[string]models.Shipment
	events    []models.ShipmentEvent
	nextID    uint64

	failOnWrite int
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{shipments: make(map[string]models.Shipment)}
}

// FailOnWrite makes the n-th write (1-based) of the next transaction fail
// with ErrInjectedFailure. n <= 0 disarms it.
func (s *Store) FailOnWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOnWrite = n
}

// Counts reports how many shipment and event rows are stored.
func (s *Store) Counts() (shipments, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shipments), len(s.events)
}

func (s *Store) GetShipment(ctx context.Context, trackingID string) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[trackingID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &sh, nil
}

func (s *Store) ListShipmentEvents(ctx context.Context, trackingID string) ([]*models.ShipmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsLocked(trackingID), nil
}

func (s *Store) LoadShipmentView(ctx context.Context, trackingID string) (*models.ShipmentView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[trackingID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.ShipmentView{
		TrackingID:    sh.TrackingID,
		CurrentStatus: sh.CurrentStatus,
		UpdatedAt:     sh.UpdatedAt,
		Events:        s.eventsLocked(trackingID),
	}, nil
}

func (s *Store) eventsLocked(trackingID string) []*models.ShipmentEvent {
	out := make([]*models.ShipmentEvent, 0)
	for _, e := range s.events {
		if e.TrackingID == trackingID {
			ev := e
			out = append(out, &ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "begin tx")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	failOn := s.failOnWrite
	s.failOnWrite = 0

	tx := &memTx{store: s, shipments: make(map[string]models.Shipment), failOn: failOn}
	if err := fn(tx); err != nil {
		return err
	}

	for id, sh := range tx.shipments {
		s.shipments[id] = sh
	}
	for _, e := range tx.events {
		s.nextID++
		e.ID = s.nextID
		s.events = append(s.events, e)
	}
	return nil
}

type memTx struct {
	store *Store

	shipments map[string]models.Shipment
	events    []models.ShipmentEvent

	writes int
	failOn int
}

func (t *memTx) write() error {
	t.writes++
	if t.failOn > 0 && t.writes == t.failOn {
		return ErrInjectedFailure
	}
	return nil
}

func (t *memTx) lookup(trackingID string) (models.Shipment, bool) {
	if sh, ok := t.shipments[trackingID]; ok {
		return sh, true
	}
	sh, ok := t.store.shipments[trackingID]
	return sh, ok
}

func (t *memTx) InsertShipment(ctx context.Context, sh *models.Shipment) error {
	if err := t.write(); err != nil {
		return errors.Wrap(err, "insert shipment")
	}
	if _, ok := t.lookup(sh.TrackingID); ok {
		return models.ErrConflict
	}
	row := *sh
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	t.shipments[sh.TrackingID] = row
	return nil
}

func (t *memTx) UpdateShipment(ctx context.Context, trackingID, status string, at time.Time) error {
	if err := t.write(); err != nil {
		return errors.Wrap(err, "update shipment")
	}
	row, ok := t.lookup(trackingID)
	if !ok {
		return models.ErrNotFound
	}
	row.CurrentStatus = status
	row.UpdatedAt = at.UTC()
	t.shipments[trackingID] = row
	return nil
}

func (t *memTx) InsertEvent(ctx context.Context, e *models.ShipmentEvent) error {
	if err := t.write(); err != nil {
		return errors.Wrap(err, "insert shipment event")
	}
	if _, ok := t.lookup(e.TrackingID); !ok {
		return errors.Wrapf(models.ErrNotFound, "insert shipment event: unknown tracking id %q", e.TrackingID)
	}
	row := *e
	row.CreatedAt = row.CreatedAt.UTC()
	t.events = append(t.events, row)
	return nil
}
