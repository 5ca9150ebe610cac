package model

import "time"

// MovementReason tags why a stock movement happened.  The set of
// reasons is closed; anything else in the log is a bug.
type MovementReason string

const (
	MovementHold       MovementReason = "reservation_hold"
	MovementRelease    MovementReason = "reservation_release"
	MovementCommit     MovementReason = "reservation_commit"
	MovementAdjustment MovementReason = "manual_adjustment"
)

// StockMovement is one append-only entry in an item's audit log.
// Entries are never updated or deleted.  For a given item the entries
// form a causal chain: each Balance equals the previous Balance plus
// this entry's Delta, so the full stock history can be reconstructed
// from the log alone.
//
// Fields:
//  ID            – primary key identifier, monotonically assigned.
//  ItemID        – item whose stock moved.
//  Delta         – signed change in available quantity (0 for commits).
//  Balance       – available quantity immediately after this movement.
//  Reason        – why the stock moved.
//  ReservationID – reservation that caused the movement, if any.
//  CreatedAt     – when the movement was recorded.
type StockMovement struct {
	ID            uint64         // stock_movements.id
	ItemID        uint64         // stock_movements.item_id
	Delta         int64          // stock_movements.delta
	Balance       uint32         // stock_movements.balance
	Reason        MovementReason // stock_movements.reason
	ReservationID *string        // stock_movements.reservation_id (nullable)
	CreatedAt     time.Time      // stock_movements.created_at
}
