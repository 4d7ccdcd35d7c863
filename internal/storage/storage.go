package storage

import (
	"context"
	"time"

	"github.com/BearBump/shipledger/internal/models"
)

// Store is the persistence capability set the ledger needs. Paired writes go
// through InTx: if fn returns an error nothing written via the Tx is kept.
type Store interface {
	// GetShipment returns models.ErrNotFound when no row exists.
	GetShipment(ctx context.Context, trackingID string) (*models.Shipment, error)
	// ListShipmentEvents returns events newest first.
	ListShipmentEvents(ctx context.Context, trackingID string) ([]*models.ShipmentEvent, error)
	// LoadShipmentView reads the shipment and its events from one snapshot, so
	// CurrentStatus always matches Events[0]. models.ErrNotFound when missing.
	LoadShipmentView(ctx context.Context, trackingID string) (*models.ShipmentView, error)
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	// InsertShipment fails with models.ErrConflict when the tracking id is taken.
	InsertShipment(ctx context.Context, s *models.Shipment) error
	// UpdateShipment fails with models.ErrNotFound when the tracking id is unknown.
	UpdateShipment(ctx context.Context, trackingID, status string, at time.Time) error
	InsertEvent(ctx context.Context, e *models.ShipmentEvent) error
}
