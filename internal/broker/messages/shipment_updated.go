package messages

import "time"

const (
	KindCreated = "created"
	KindUpdated = "updated"
)

// ShipmentUpdated is published after a create/update commit, keyed by tracking id.
type ShipmentUpdated struct {
	EventID    string    `json:"event_id"`
	TrackingID string    `json:"tracking_id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
