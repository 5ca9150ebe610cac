// Package queue defines message payloads exchanged over the message
// broker and the background consumer for delivery requests.
package queue

import (
	"encoding/json"
	"strings"
)

// DeliveryRequestedEvent is published exactly once when a reservation
// commits.  The delivery-scheduling collaborator owns and consumes
// it; this engine only emits.  The window is tight because the goods
// are perishable: committed orders ship urgently.
type DeliveryRequestedEvent struct {
	ReservationID string `json:"reservation_id"`
	ItemID        uint64 `json:"item_id"`
	ItemName      string `json:"item_name"`
	Quantity      uint32 `json:"quantity"`
	BuyerID       uint64 `json:"buyer_id"`
	Destination   string `json:"destination"`
	WindowStart   string `json:"window_start"` // RFC3339
	WindowEnd     string `json:"window_end"`   // RFC3339
	Priority      string `json:"priority"`     // always "high" for perishables
	RequestedAt   string `json:"requested_at"` // RFC3339
}

// RefundRequestedEvent is published when a payment arrived for a
// reservation the sweeper had already expired.  The payments
// collaborator performs the actual refund; this engine only signals.
type RefundRequestedEvent struct {
	TxID          string `json:"txid"`
	ReservationID string `json:"reservation_id"`
	AmountCents   uint64 `json:"amount_cents"`
	Reason        string `json:"reason"`
	RequestedAt   string `json:"requested_at"` // RFC3339
}

// ConfirmationStatus is the normalized tag of a provider
// confirmation.  Providers report free-form strings; everything the
// engine acts on is reduced to these variants, with the raw payload
// kept alongside for audit and forward compatibility.
type ConfirmationStatus string

const (
	ConfirmationPaid    ConfirmationStatus = "paid"
	ConfirmationFailed  ConfirmationStatus = "failed"
	ConfirmationExpired ConfirmationStatus = "expired"
	ConfirmationUnknown ConfirmationStatus = "unknown"
)

// ConfirmationEvent is the inbound payment confirmation, delivered
// at-least-once by the provider's webhook.  RawPayload carries the
// provider body verbatim.
type ConfirmationEvent struct {
	TxID       string          `json:"txid"`
	Status     string          `json:"status"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// NormalizedStatus maps the provider's reported status string onto
// the closed set of variants the settlement handler acts on.
// Unrecognized strings normalize to ConfirmationUnknown and are
// logged and dropped without touching any state.
func (e ConfirmationEvent) NormalizedStatus() ConfirmationStatus {
	switch strings.ToLower(strings.TrimSpace(e.Status)) {
	case "paid", "concluded", "concluida":
		return ConfirmationPaid
	case "failed", "rejected":
		return ConfirmationFailed
	case "expired":
		return ConfirmationExpired
	default:
		return ConfirmationUnknown
	}
}
