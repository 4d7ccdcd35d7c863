package pgledger

import (
	"context"

	"github.com/BearBump/shipledger/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) ListShipmentEvents(ctx context.Context, trackingID string) ([]*models.ShipmentEvent, error) {
	return listShipmentEvents(ctx, s.db, trackingID)
}

func listShipmentEvents(ctx context.Context, q querier, trackingID string) ([]*models.ShipmentEvent, error) {
	rows, err := q.Query(ctx, `
SELECT id, tracking_id, status, note, created_at
FROM shipment_events
WHERE tracking_id = $1
ORDER BY created_at DESC, id DESC
`, trackingID)
	if err != nil {
		return nil, errors.Wrap(err, "select shipment events")
	}
	defer rows.Close()

	out := make([]*models.ShipmentEvent, 0)
	for rows.Next() {
		var e models.ShipmentEvent
		if err := rows.Scan(&e.ID, &e.TrackingID, &e.Status, &e.Note, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan shipment event")
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, e *models.ShipmentEvent) error {
	err := t.tx.QueryRow(ctx, `
INSERT INTO shipment_events (tracking_id, status, note, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id
`, e.TrackingID, e.Status, e.Note, e.CreatedAt.UTC()).Scan(&e.ID)
	if isPgError(err, pgForeignKeyViolation) {
		return errors.Wrapf(models.ErrNotFound, "insert shipment event: unknown tracking id %q", e.TrackingID)
	}
	if err != nil {
		return errors.Wrap(err, "insert shipment event")
	}
	return nil
}
