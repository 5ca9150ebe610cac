package payment

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/granjafresh/ovostock/internal/ledger"
	"github.com/granjafresh/ovostock/internal/model"
	"github.com/granjafresh/ovostock/internal/queue"
	"github.com/granjafresh/ovostock/internal/repository"
)

// ReasonExpiredBeforePayment is recorded on a charge whose payment
// arrived after the sweeper had already released the stock.
const ReasonExpiredBeforePayment = "reservation_expired_before_payment"

// errChargeSettled aborts a commit transaction when the in-transaction
// re-read finds the charge no longer pending: a concurrent delivery of
// the same confirmation got there first.
var errChargeSettled = errors.New("charge already settled")

// DeliveryScheduler receives the delivery request emitted when a
// reservation commits.  Emission is fire-and-forget from the engine's
// point of view.
type DeliveryScheduler interface {
	ScheduleDelivery(ctx context.Context, ev queue.DeliveryRequestedEvent) error
}

// RefundSignaler carries the compensation signal for payments that
// lost the race against expiry.
type RefundSignaler interface {
	RequestRefund(ctx context.Context, ev queue.RefundRequestedEvent) error
}

// Settlement consumes provider payment confirmations.  It is
// idempotent under at-least-once delivery: the charge status check up
// front drops already-settled redeliveries cheaply, and the same
// check repeated inside the commit transaction decides races between
// concurrent deliveries of one confirmation, so exactly one ledger
// commit and one delivery request come out of any number of identical
// deliveries.
type Settlement struct {
	items        *repository.ItemRepo
	reservations *repository.ReservationRepo
	charges      *repository.PaymentChargeRepo
	ledger       *ledger.Ledger
	delivery     DeliveryScheduler
	refunds      RefundSignaler
}

// NewSettlement constructs a Settlement handler.  All dependencies
// must be non-nil.
func NewSettlement(items *repository.ItemRepo, reservations *repository.ReservationRepo, charges *repository.PaymentChargeRepo, l *ledger.Ledger, delivery DeliveryScheduler, refunds RefundSignaler) *Settlement {
	if items == nil || reservations == nil || charges == nil || l == nil || delivery == nil || refunds == nil {
		panic("nil dependency passed to payment.NewSettlement")
	}
	return &Settlement{
		items:        items,
		reservations: reservations,
		charges:      charges,
		ledger:       l,
		delivery:     delivery,
		refunds:      refunds,
	}
}

// HandleConfirmation processes one provider confirmation event.
// Unknown transaction ids return repository.ErrChargeNotFound for the
// webhook handler to log; they are provider-side duplicates or
// misroutes and are never retried.  A paid confirmation commits the
// reservation and emits the delivery request; when the sweeper
// already expired the reservation the charge is failed and a refund
// signal goes out instead.  Failed/expired confirmations only mark
// the charge; the sweeper reclaims the stock on its own schedule.
func (s *Settlement) HandleConfirmation(ctx context.Context, ev queue.ConfirmationEvent) error {
	ch, err := s.charges.GetByTxID(ctx, ev.TxID)
	if err != nil {
		return err
	}
	// Idempotency gate: a charge that already settled never acts again.
	if ch.Status != model.ChargePending {
		log.Printf("settlement: charge %s already %s, ignoring redelivery", ch.TxID, ch.Status)
		return nil
	}

	switch ev.NormalizedStatus() {
	case queue.ConfirmationPaid:
		return s.settlePaid(ctx, ch, ev)
	case queue.ConfirmationFailed:
		reason := "provider_reported_failure"
		return s.markTerminal(ctx, ch.TxID, model.ChargeFailed, &reason)
	case queue.ConfirmationExpired:
		return s.markTerminal(ctx, ch.TxID, model.ChargeExpired, nil)
	default:
		log.Printf("settlement: charge %s reported unknown status %q, ignoring", ch.TxID, ev.Status)
		return nil
	}
}

func (s *Settlement) settlePaid(ctx context.Context, ch *model.PaymentCharge, ev queue.ConfirmationEvent) error {
	now := time.Now().UTC()
	res, err := s.ledger.CommitWith(ctx, ch.ReservationID, func(ctx context.Context, tx *sql.Tx) error {
		// Re-check the charge inside the commit transaction so the
		// entry gate's non-transactional read cannot race a concurrent
		// delivery of the same confirmation: only one of them finds
		// the charge still pending here.
		cur, err := s.charges.GetByTxIDTx(ctx, tx, ch.TxID)
		if err != nil {
			return err
		}
		if cur.Status != model.ChargePending {
			return errChargeSettled
		}
		return s.charges.MarkPaidTx(ctx, tx, ch.TxID, ev.RawPayload, now)
	})
	if errors.Is(err, errChargeSettled) {
		log.Printf("settlement: charge %s settled concurrently, ignoring redelivery", ch.TxID)
		return nil
	}
	if errors.Is(err, repository.ErrAlreadyTerminal) {
		// The reservation reached a terminal state before this
		// delivery could commit it.  Which state it reached decides
		// between finishing the settlement and refunding the buyer.
		return s.resolveTerminal(ctx, ch, ev)
	}
	if err != nil {
		return err
	}
	return s.emitDelivery(ctx, res, now)
}

// resolveTerminal handles a paid confirmation whose reservation is no
// longer pending.  COMMITTED means an earlier delivery (or a run cut
// short before its delivery request went out) already won the sale, so
// the settlement is finished rather than refunded.  EXPIRED and
// CANCELLED mean the stock already went back to the pool; the charge
// is failed and a refund signal goes out.
func (s *Settlement) resolveTerminal(ctx context.Context, ch *model.PaymentCharge, ev queue.ConfirmationEvent) error {
	res, err := s.reservations.GetByID(ctx, ch.ReservationID)
	if err != nil {
		return err
	}
	if res.Status != model.ReservationCommitted {
		// The sweeper released the stock before the payment landed.
		// Fail the charge and signal compensation; never re-allocate.
		return s.compensate(ctx, ch)
	}
	cur, err := s.charges.GetByTxID(ctx, ch.TxID)
	if err != nil {
		return err
	}
	if cur.Status != model.ChargePending {
		log.Printf("settlement: charge %s already settled with reservation %s committed, ignoring redelivery", ch.TxID, res.ID)
		return nil
	}
	// Committed reservation with a still-pending charge: an earlier
	// run stopped between the commit and its delivery request.  Finish
	// the settlement instead of refunding a won sale.
	now := time.Now().UTC()
	if err := s.markPaid(ctx, ch.TxID, ev.RawPayload, now); err != nil {
		return err
	}
	return s.emitDelivery(ctx, res, now)
}

func (s *Settlement) emitDelivery(ctx context.Context, res *model.Reservation, now time.Time) error {
	item, err := s.items.GetByID(ctx, res.ItemID)
	if err != nil {
		return err
	}
	delivery := queue.DeliveryRequestedEvent{
		ReservationID: res.ID,
		ItemID:        res.ItemID,
		ItemName:      item.Name,
		Quantity:      res.Quantity,
		BuyerID:       res.BuyerID,
		Destination:   res.Destination,
		WindowStart:   now.Format(time.RFC3339),
		WindowEnd:     now.Add(4 * time.Hour).Format(time.RFC3339),
		Priority:      "high",
		RequestedAt:   now.Format(time.RFC3339),
	}
	if err := s.delivery.ScheduleDelivery(ctx, delivery); err != nil {
		// Fire-and-forget: the sale is settled either way.
		log.Printf("settlement: delivery request for %s failed: %v", res.ID, err)
	}
	return nil
}

func (s *Settlement) compensate(ctx context.Context, ch *model.PaymentCharge) error {
	reason := ReasonExpiredBeforePayment
	now := time.Now().UTC()
	tx, err := s.charges.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := s.charges.MarkStatusTx(ctx, tx, ch.TxID, model.ChargeFailed, &reason, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	refund := queue.RefundRequestedEvent{
		TxID:          ch.TxID,
		ReservationID: ch.ReservationID,
		AmountCents:   ch.AmountCents,
		Reason:        reason,
		RequestedAt:   now.Format(time.RFC3339),
	}
	if err := s.refunds.RequestRefund(ctx, refund); err != nil {
		log.Printf("settlement: refund signal for %s failed: %v", ch.TxID, err)
	}
	return nil
}

func (s *Settlement) markPaid(ctx context.Context, txid string, raw []byte, now time.Time) error {
	tx, err := s.charges.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := s.charges.MarkPaidTx(ctx, tx, txid, raw, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Settlement) markTerminal(ctx context.Context, txid string, status model.ChargeStatus, reason *string) error {
	tx, err := s.charges.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := s.charges.MarkStatusTx(ctx, tx, txid, status, reason, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
