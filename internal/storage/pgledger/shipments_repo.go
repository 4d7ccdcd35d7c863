package pgledger

import (
	"context"
	"time"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func (s *Storage) GetShipment(ctx context.Context, trackingID string) (*models.Shipment, error) {
	return getShipment(ctx, s.db, trackingID)
}

func getShipment(ctx context.Context, q querier, trackingID string) (*models.Shipment, error) {
	var sh models.Shipment
	err := q.QueryRow(ctx, `
SELECT tracking_id, current_status, updated_at, created_at
FROM shipments
WHERE tracking_id = $1
`, trackingID).Scan(&sh.TrackingID, &sh.CurrentStatus, &sh.UpdatedAt, &sh.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	sh.UpdatedAt = sh.UpdatedAt.UTC()
	sh.CreatedAt = sh.CreatedAt.UTC()
	return &sh, nil
}

// InsertShipment relies on the primary key: a concurrent creator loses with
// models.ErrConflict instead of racing a SELECT.
func (t *pgTx) InsertShipment(ctx context.Context, sh *models.Shipment) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO shipments (tracking_id, current_status, updated_at, created_at)
VALUES ($1, $2, $3, $4)
`, sh.TrackingID, sh.CurrentStatus, sh.UpdatedAt.UTC(), sh.CreatedAt.UTC())
	if isPgError(err, pgUniqueViolation) {
		return models.ErrConflict
	}
	if err != nil {
		return errors.Wrap(err, "insert shipment")
	}
	return nil
}

func (t *pgTx) UpdateShipment(ctx context.Context, trackingID, status string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE shipments
SET current_status = $2, updated_at = $3
WHERE tracking_id = $1
`, trackingID, status, at.UTC())
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
