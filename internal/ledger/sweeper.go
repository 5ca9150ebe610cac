package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/granjafresh/ovostock/internal/model"
	"github.com/granjafresh/ovostock/internal/repository"
)

// Sweeper reclaims stock from unpaid reservations whose payment
// deadline has passed.  It is the only actor that produces the
// EXPIRED reservation status.  It races the settlement handler on the
// same reservation records; losing that race surfaces as
// ErrAlreadyTerminal from Release and is a normal outcome, not an
// error.
type Sweeper struct {
	ledger       *Ledger
	reservations *repository.ReservationRepo
	charges      *repository.PaymentChargeRepo
	interval     time.Duration
	batchSize    int
}

// NewSweeper constructs a Sweeper.  interval is how often a pass
// runs; batchSize caps how many overdue reservations one pass loads.
func NewSweeper(l *Ledger, reservations *repository.ReservationRepo, charges *repository.PaymentChargeRepo, interval time.Duration, batchSize int) *Sweeper {
	if l == nil || reservations == nil || charges == nil {
		panic("nil dependency passed to ledger.NewSweeper")
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		ledger:       l,
		reservations: reservations,
		charges:      charges,
		interval:     interval,
		batchSize:    batchSize,
	}
}

// Run executes sweep passes on the configured interval until the
// context is cancelled.  Intended to run in its own goroutine from
// main.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("sweeper: stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			released, err := s.Sweep(ctx)
			if err != nil {
				log.Printf("sweeper: pass failed: %v", err)
				continue
			}
			if released > 0 {
				log.Printf("sweeper: released %d expired reservation(s)", released)
			}
		}
	}
}

// Sweep performs one pass: every PENDING reservation at or past its
// payment deadline is released back to the pool and its paired charge
// (if still pending) is marked expired.  Returns how many
// reservations this pass actually released.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	overdue, err := s.reservations.ListOverduePending(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, res := range overdue {
		err := s.ledger.Release(ctx, res.ID, CauseExpired)
		switch {
		case err == nil:
			released++
		case errors.Is(err, repository.ErrAlreadyTerminal):
			// Settlement won the race; nothing to reclaim.
			continue
		case errors.Is(err, repository.ErrReservationNotFound):
			continue
		default:
			log.Printf("sweeper: release %s failed: %v", res.ID, err)
			continue
		}
		if err := s.expireCharge(ctx, res.ID); err != nil {
			log.Printf("sweeper: expire charge for %s failed: %v", res.ID, err)
		}
	}
	return released, nil
}

func (s *Sweeper) expireCharge(ctx context.Context, reservationID string) error {
	ch, err := s.charges.GetByReservationID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrChargeNotFound) {
			// Hold was never charged (issuance failed); fine.
			return nil
		}
		return err
	}
	if ch.Status != model.ChargePending {
		return nil
	}
	return s.charges.MarkStatus(ctx, ch.TxID, model.ChargeExpired, nil, time.Now().UTC())
}
