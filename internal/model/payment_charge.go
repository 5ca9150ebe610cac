package model

import "time"

// ChargeStatus enumerates the lifecycle states of a payment charge.
type ChargeStatus string

const (
	ChargePending ChargeStatus = "PENDING"
	ChargePaid    ChargeStatus = "PAID"
	ChargeExpired ChargeStatus = "EXPIRED"
	ChargeFailed  ChargeStatus = "FAILED"
)

// PaymentCharge is a time-boxed PIX charge issued against exactly one
// pending reservation.  The charge expiry never outlives the stock
// hold: it equals the reservation's payment deadline.  The raw
// provider payload is kept verbatim for dispute audits.
//
// Fields:
//  TxID          – provider-assigned transaction identifier (primary key).
//  ReservationID – the reservation this charge pays for (one-to-one).
//  AmountCents   – charged amount (item price × quantity + delivery fee).
//  QRCode        – copy-and-paste PIX payload shown to the buyer.
//  ExpiresAt     – charge expiry; equal to the reservation deadline.
//  Status        – current charge state.
//  FailReason    – why the charge failed, when Status is FAILED.
//  RawPayload    – last raw provider payload, opaque to this engine.
//  PaidAt        – when the provider confirmed payment, if ever.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type PaymentCharge struct {
	TxID          string       // payment_charges.txid
	ReservationID string       // payment_charges.reservation_id
	AmountCents   uint64       // payment_charges.amount_cents
	QRCode        string       // payment_charges.qr_code
	ExpiresAt     time.Time    // payment_charges.expires_at
	Status        ChargeStatus // payment_charges.status
	FailReason    *string      // payment_charges.fail_reason (nullable)
	RawPayload    []byte       // payment_charges.raw_payload (opaque blob)
	PaidAt        *time.Time   // payment_charges.paid_at (nullable)
	CreatedAt     time.Time    // payment_charges.created_at
	UpdatedAt     time.Time    // payment_charges.updated_at
}
