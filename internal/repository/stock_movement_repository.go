package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/granjafresh/ovostock/internal/model"
)

// StockMovementRepo appends to and reads the stock_movements audit
// log.  The log is append-only: there are deliberately no update or
// delete methods.  For one item the rows form a balance chain (each
// balance equals the previous balance plus the row's delta), which is
// what the audit tooling verifies.
type StockMovementRepo struct {
	db *sql.DB
}

// NewStockMovementRepo returns a new StockMovementRepo bound to the given database.
func NewStockMovementRepo(db *sql.DB) *StockMovementRepo { return &StockMovementRepo{db: db} }

// AppendTx records one movement within the provided transaction and
// populates the generated ID.  It must run in the same transaction as
// the availability write it documents so the chain cannot skew.
func (r *StockMovementRepo) AppendTx(ctx context.Context, tx *sql.Tx, m *model.StockMovement) error {
	now := time.Now().UTC()
	const q = `INSERT INTO stock_movements (item_id, delta, balance, reason, reservation_id, created_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	var resID interface{}
	if m.ReservationID != nil {
		resID = *m.ReservationID
	}
	res, err := tx.ExecContext(ctx, q, m.ItemID, m.Delta, m.Balance, string(m.Reason), resID, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	m.CreatedAt = now
	return nil
}

// ListByItem returns the full movement log for one item in insertion
// order, oldest first, so the balance chain can be replayed.
func (r *StockMovementRepo) ListByItem(ctx context.Context, itemID uint64) ([]model.StockMovement, error) {
	const q = `SELECT id, item_id, delta, balance, reason, reservation_id, created_at
	           FROM stock_movements
	           WHERE item_id = ?
	           ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, q, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.StockMovement, 0)
	for rows.Next() {
		var m model.StockMovement
		var reason string
		var resID sql.NullString
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Delta, &m.Balance, &reason, &resID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason = model.MovementReason(reason)
		if resID.Valid {
			s := resID.String
			m.ReservationID = &s
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
