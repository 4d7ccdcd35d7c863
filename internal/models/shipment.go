package models

import "time"

type Shipment struct {
	TrackingID    string
	CurrentStatus string
	UpdatedAt     time.Time
	CreatedAt     time.Time
}

// ShipmentEvent is one immutable entry of a shipment's status history.
type ShipmentEvent struct {
	ID         uint64    `json:"id"`
	TrackingID string    `json:"trackingId"`
	Status     string    `json:"status"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ShipmentView is what a customer sees on lookup: the latest state plus the
// full history, newest first.
type ShipmentView struct {
	TrackingID    string           `json:"trackingId"`
	CurrentStatus string           `json:"currentStatus"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	Events        []*ShipmentEvent `json:"events"`
}

type ShipmentWrite struct {
	TrackingID string
	Status     string
	Note       string
}

type CreateResult struct {
	Shipment     *Shipment
	TrackingLink string
}
