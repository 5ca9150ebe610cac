// Package ledger implements the transactional stock core: holding,
// releasing and committing reservations while keeping the items table
// and the stock_movements audit log in lockstep.  All writes to one
// item's availability and to its reservations' statuses are
// serialized by a per-item lock held across the read-check-write
// sequence, so two concurrent holds can never both pass the
// availability check against a stale read.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/granjafresh/ovostock/internal/model"
	"github.com/granjafresh/ovostock/internal/repository"
)

// ReleaseCause says who is returning the stock: the expiry sweeper or
// an explicit buyer cancel.  The cause picks the terminal status and
// is the only difference between the two paths; any fee policy for
// buyer cancels lives with the caller, not here.
type ReleaseCause string

const (
	CauseExpired   ReleaseCause = "expired"
	CauseCancelled ReleaseCause = "cancelled"
)

// itemLocks hands out one mutex per item id.  Entries are never
// removed; the set of items is small and long-lived.
type itemLocks struct {
	mu sync.Mutex
	m  map[uint64]*sync.Mutex
}

func (l *itemLocks) lock(itemID uint64) *sync.Mutex {
	l.mu.Lock()
	lk, ok := l.m[itemID]
	if !ok {
		lk = &sync.Mutex{}
		l.m[itemID] = lk
	}
	l.mu.Unlock()
	lk.Lock()
	return lk
}

// Ledger owns every mutation of item availability and reservation
// status.  Each operation runs inside one database transaction under
// the item's lock and appends exactly one stock movement, so the
// movement log's balance chain always matches the availability
// column.
type Ledger struct {
	db           *sql.DB
	items        *repository.ItemRepo
	reservations *repository.ReservationRepo
	movements    *repository.StockMovementRepo
	holdWindow   time.Duration
	locks        itemLocks
	invalidate   func(ctx context.Context, itemID uint64)
}

// New constructs a Ledger.  holdWindow is how long an unpaid hold
// lives before the sweeper may reclaim it.
func New(db *sql.DB, items *repository.ItemRepo, reservations *repository.ReservationRepo, movements *repository.StockMovementRepo, holdWindow time.Duration) *Ledger {
	if db == nil || items == nil || reservations == nil || movements == nil {
		panic("nil dependency passed to ledger.New")
	}
	return &Ledger{
		db:           db,
		items:        items,
		reservations: reservations,
		movements:    movements,
		holdWindow:   holdWindow,
		locks:        itemLocks{m: make(map[uint64]*sync.Mutex)},
	}
}

// OnMutation registers a hook invoked after every committed ledger
// mutation with the affected item id.  The availability cache uses it
// for explicit invalidation.
func (l *Ledger) OnMutation(fn func(ctx context.Context, itemID uint64)) { l.invalidate = fn }

func (l *Ledger) notify(ctx context.Context, itemID uint64) {
	if l.invalidate != nil {
		l.invalidate(ctx, itemID)
	}
}

// Hold atomically reserves qty units of the item for the buyer.  On
// success the stock is decremented, a reservation_hold movement is
// appended and a PENDING reservation with a payment deadline of now
// plus the hold window is returned.  When fewer than qty units are
// available it returns repository.ErrInsufficientStock and changes
// nothing.
func (l *Ledger) Hold(ctx context.Context, itemID, buyerID uint64, destination string, qty uint32) (*model.Reservation, error) {
	if qty == 0 {
		return nil, fmt.Errorf("hold: quantity must be positive")
	}
	lk := l.locks.lock(itemID)
	defer lk.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("hold: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	item, err := l.items.GetByIDTx(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if qty > item.AvailableQty {
		return nil, repository.ErrInsufficientStock
	}
	now := time.Now().UTC()
	newAvail := item.AvailableQty - qty
	if err := l.items.UpdateAvailableTx(ctx, tx, itemID, newAvail, now); err != nil {
		return nil, err
	}
	res := &model.Reservation{
		ID:              uuid.NewString(),
		ItemID:          itemID,
		BuyerID:         buyerID,
		Destination:     destination,
		Quantity:        qty,
		Status:          model.ReservationPending,
		PaymentDeadline: now.Add(l.holdWindow),
	}
	if err := l.reservations.CreateTx(ctx, tx, res); err != nil {
		return nil, err
	}
	mov := &model.StockMovement{
		ItemID:        itemID,
		Delta:         -int64(qty),
		Balance:       newAvail,
		Reason:        model.MovementHold,
		ReservationID: &res.ID,
	}
	if err := l.movements.AppendTx(ctx, tx, mov); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("hold: commit tx: %w", err)
	}
	committed = true
	l.notify(ctx, itemID)
	return res, nil
}

// Release returns a pending reservation's stock to the pool exactly
// once and marks the reservation EXPIRED or CANCELLED depending on
// the cause.  When the reservation already reached a terminal state
// it returns repository.ErrAlreadyTerminal and moves no stock, which
// is what prevents double-credit when the sweeper and a settlement
// race on the same reservation.
func (l *Ledger) Release(ctx context.Context, reservationID string, cause ReleaseCause) error {
	// Resolve the item first so the right lock can be taken; the
	// reservation itself is re-read under the lock.
	res, err := l.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	lk := l.locks.lock(res.ItemID)
	defer lk.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("release: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err = l.reservations.GetByIDTx(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if res.Status.Terminal() {
		return repository.ErrAlreadyTerminal
	}
	status := model.ReservationCancelled
	if cause == CauseExpired {
		status = model.ReservationExpired
	}
	now := time.Now().UTC()
	if err := l.reservations.SetStatusTx(ctx, tx, reservationID, status, now); err != nil {
		return err
	}
	item, err := l.items.GetByIDTx(ctx, tx, res.ItemID)
	if err != nil {
		return err
	}
	newAvail := item.AvailableQty + res.Quantity
	if err := l.items.UpdateAvailableTx(ctx, tx, res.ItemID, newAvail, now); err != nil {
		return err
	}
	mov := &model.StockMovement{
		ItemID:        res.ItemID,
		Delta:         int64(res.Quantity),
		Balance:       newAvail,
		Reason:        model.MovementRelease,
		ReservationID: &res.ID,
	}
	if err := l.movements.AppendTx(ctx, tx, mov); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("release: commit tx: %w", err)
	}
	committed = true
	l.notify(ctx, res.ItemID)
	return nil
}

// Commit transitions a pending reservation to COMMITTED after payment
// was confirmed.  Stock was already decremented at Hold time, so the
// appended reservation_commit movement carries delta 0 purely for
// audit continuity.  A reservation the sweeper already expired fails
// with repository.ErrAlreadyTerminal; the caller compensates.
func (l *Ledger) Commit(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return l.CommitWith(ctx, reservationID, nil)
}

// CommitWith is Commit with an extra write enrolled in the same
// transaction: when fn is non-nil it runs after the reservation flips
// to COMMITTED and before the transaction commits, so the caller's
// write and the status change land or roll back together.  The
// settlement handler uses it to mark the charge paid atomically with
// the commit; a crash can then never leave a committed reservation
// behind a still-pending charge.
func (l *Ledger) CommitWith(ctx context.Context, reservationID string, fn func(ctx context.Context, tx *sql.Tx) error) (*model.Reservation, error) {
	res, err := l.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	lk := l.locks.lock(res.ItemID)
	defer lk.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("commit: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err = l.reservations.GetByIDTx(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status.Terminal() {
		return nil, repository.ErrAlreadyTerminal
	}
	now := time.Now().UTC()
	if err := l.reservations.SetStatusTx(ctx, tx, reservationID, model.ReservationCommitted, now); err != nil {
		return nil, err
	}
	item, err := l.items.GetByIDTx(ctx, tx, res.ItemID)
	if err != nil {
		return nil, err
	}
	mov := &model.StockMovement{
		ItemID:        res.ItemID,
		Delta:         0,
		Balance:       item.AvailableQty,
		Reason:        model.MovementCommit,
		ReservationID: &res.ID,
	}
	if err := l.movements.AppendTx(ctx, tx, mov); err != nil {
		return nil, err
	}
	if fn != nil {
		if err := fn(ctx, tx); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: commit tx: %w", err)
	}
	committed = true
	l.notify(ctx, res.ItemID)
	res.Status = model.ReservationCommitted
	res.CommittedAt = &now
	res.UpdatedAt = now
	return res, nil
}

// Adjust applies a farm-side manual stock correction and records a
// manual_adjustment movement.  Negative corrections larger than the
// current availability fail with repository.ErrInsufficientStock.
func (l *Ledger) Adjust(ctx context.Context, itemID uint64, delta int64) error {
	if delta == 0 {
		return nil
	}
	lk := l.locks.lock(itemID)
	defer lk.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("adjust: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	item, err := l.items.GetByIDTx(ctx, tx, itemID)
	if err != nil {
		return err
	}
	newAvail := int64(item.AvailableQty) + delta
	if newAvail < 0 {
		return repository.ErrInsufficientStock
	}
	now := time.Now().UTC()
	if err := l.items.UpdateAvailableTx(ctx, tx, itemID, uint32(newAvail), now); err != nil {
		return err
	}
	mov := &model.StockMovement{
		ItemID:  itemID,
		Delta:   delta,
		Balance: uint32(newAvail),
		Reason:  model.MovementAdjustment,
	}
	if err := l.movements.AppendTx(ctx, tx, mov); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("adjust: commit tx: %w", err)
	}
	committed = true
	l.notify(ctx, itemID)
	return nil
}
