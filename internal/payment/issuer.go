package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/granjafresh/ovostock/internal/model"
	"github.com/granjafresh/ovostock/internal/repository"
)

// Issuer creates the time-boxed payment charge paired with a pending
// reservation.  A charge's expiry always equals the reservation's
// payment deadline; the payment window must never outlive the stock
// hold.  Provider failure leaves the hold intact: the caller decides
// between retrying issuance and releasing explicitly, and the sweeper
// reclaims abandoned holds either way.
type Issuer struct {
	provider Provider
	fees     FeeQuoter
	charges  *repository.PaymentChargeRepo
}

// NewIssuer constructs an Issuer.  All dependencies must be non-nil.
func NewIssuer(provider Provider, fees FeeQuoter, charges *repository.PaymentChargeRepo) *Issuer {
	if provider == nil || fees == nil || charges == nil {
		panic("nil dependency passed to payment.NewIssuer")
	}
	return &Issuer{provider: provider, fees: fees, charges: charges}
}

// IssueCharge computes the amount (unit price times quantity plus the
// quoted delivery fee), asks the provider for a dynamic charge that
// expires exactly at the reservation's payment deadline, embeds the
// descriptive metadata, and persists the resulting charge as PENDING.
func (i *Issuer) IssueCharge(ctx context.Context, res *model.Reservation, item *model.Item, deliveryEstimate time.Time) (*model.PaymentCharge, error) {
	remaining := time.Until(res.PaymentDeadline)
	if remaining <= 0 {
		return nil, &ProviderError{Op: "issue charge", Err: fmt.Errorf("reservation %s deadline already passed", res.ID)}
	}
	fee, err := i.fees.Quote(ctx, res.Destination)
	if err != nil {
		return nil, &ProviderError{Op: "quote delivery fee", Err: err}
	}
	// Sum in 64 bits: price and quantity are 32-bit columns and their
	// product can overflow uint32.
	amount := uint64(item.UnitPriceCents)*uint64(res.Quantity) + uint64(fee)

	req := ChargeRequest{
		TxID:        NewTxID(),
		AmountCents: amount,
		ExpiresIn:   remaining,
		Metadata:    chargeMetadata(res, item, deliveryEstimate),
	}
	result, err := i.provider.CreateCharge(ctx, req)
	if err != nil {
		if _, ok := err.(*ProviderError); ok {
			return nil, err
		}
		return nil, &ProviderError{Op: "create charge", Err: err}
	}

	charge := &model.PaymentCharge{
		TxID:          result.TxID,
		ReservationID: res.ID,
		AmountCents:   amount,
		QRCode:        result.QRCode,
		ExpiresAt:     res.PaymentDeadline,
		Status:        model.ChargePending,
		RawPayload:    result.RawPayload,
	}
	if err := i.charges.Create(ctx, charge); err != nil {
		return nil, fmt.Errorf("persist charge %s: %w", charge.TxID, err)
	}
	return charge, nil
}

// NewTxID generates a provider transaction id in the house format:
// an OVO prefix, a UTC second timestamp and an 8-character random
// suffix.
func NewTxID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return "OVO" + time.Now().UTC().Format("20060102150405") + suffix
}

// chargeMetadata builds the human-readable info block shown on the
// charge: what is being bought, how long it keeps, when it arrives
// and which farm it comes from.
func chargeMetadata(res *model.Reservation, item *model.Item, deliveryEstimate time.Time) []MetadataEntry {
	expiry := "non-perishable"
	if item.ExpiresAt != nil {
		expiry = item.ExpiresAt.UTC().Format("2006-01-02")
	}
	return []MetadataEntry{
		{Name: "product", Value: fmt.Sprintf("%dx %s", res.Quantity, item.Name)},
		{Name: "expiry", Value: expiry},
		{Name: "delivery", Value: deliveryEstimate.UTC().Format("2006-01-02")},
		{Name: "farm", Value: item.FarmName},
		{Name: "origin", Value: item.Origin},
	}
}
