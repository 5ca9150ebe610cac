package model

import "time"

// ReservationStatus enumerates the lifecycle states of a reservation.
// A reservation is born PENDING and dies into exactly one terminal
// state.  Stock reserved at creation is returned to the pool exactly
// once when the terminal state is EXPIRED or CANCELLED, and never
// returned when it is COMMITTED.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Terminal reports whether the status is one of the end states.  A
// terminal reservation must never change status or move stock again.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCommitted || s == ReservationExpired || s == ReservationCancelled
}

// Reservation records a time-boxed exclusive hold of item stock for
// one buyer.  The quantity was subtracted from the item's available
// stock when the hold was created; whoever drives the reservation to a
// terminal state decides whether that stock comes back.
//
// Fields:
//  ID              – opaque unique identifier (UUID).
//  ItemID          – item whose stock is held.
//  BuyerID         – buyer the stock is held for.
//  Destination     – delivery destination identifier (postal code).
//  Quantity        – units held.
//  Status          – current lifecycle state.
//  PaymentDeadline – when the unpaid hold lapses.
//  CommittedAt     – when payment was confirmed, if ever.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Reservation struct {
	ID              string            // reservations.id (UUID)
	ItemID          uint64            // reservations.item_id
	BuyerID         uint64            // reservations.buyer_id
	Destination     string            // reservations.destination
	Quantity        uint32            // reservations.quantity
	Status          ReservationStatus // reservations.status
	PaymentDeadline time.Time         // reservations.payment_deadline
	CommittedAt     *time.Time        // reservations.committed_at (nullable)
	CreatedAt       time.Time         // reservations.created_at
	UpdatedAt       time.Time         // reservations.updated_at
}
