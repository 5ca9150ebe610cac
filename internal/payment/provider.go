// Package payment issues time-boxed PIX charges against pending
// reservations and settles asynchronous provider confirmations.
package payment

import (
	"context"
	"fmt"
	"time"
)

// MetadataEntry is one human-readable name/value pair embedded in a
// charge request for dispute traceability.  Metadata is descriptive
// only; settlement logic never reads it.
type MetadataEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ChargeRequest is what the engine asks the provider to create.
type ChargeRequest struct {
	TxID        string          // caller-generated transaction id
	AmountCents uint64          // total amount to charge
	ExpiresIn   time.Duration   // how long the charge stays payable
	Metadata    []MetadataEntry // descriptive info shown on the charge
}

// ChargeResult is the provider's answer to a charge request.
type ChargeResult struct {
	TxID       string // echoed transaction id
	QRCode     string // copy-and-paste PIX payload
	RawPayload []byte // raw provider response, kept for audit
}

// Provider is the outbound payment collaborator.  The single call may
// block on network I/O with a bounded timeout and is never made while
// a ledger lock is held.
type Provider interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// FeeQuoter prices the delivery leg of an order.  It is an opaque
// collaborator; the engine only adds its answer to the charge amount.
type FeeQuoter interface {
	Quote(ctx context.Context, destination string) (uint32, error)
}

// ProviderError wraps any failure talking to the payment or fee
// collaborators.  Callers receive it with the stock hold left intact;
// the sweeper reclaims the hold if payment is never retried.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("payment provider: %s: %v", e.Op, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }
