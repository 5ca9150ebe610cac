package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/granjafresh/ovostock/internal/model"
)

// ReservationRepo provides data access to the reservations table.
// Status transitions are guarded: terminal reservations are never
// rewritten.  All timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, item_id, buyer_id, destination, quantity, status,
                            payment_deadline, committed_at, created_at, updated_at`

func scanReservation(scan func(dest ...interface{}) error) (*model.Reservation, error) {
	var res model.Reservation
	var status string
	var committed sql.NullTime
	err := scan(
		&res.ID, &res.ItemID, &res.BuyerID, &res.Destination, &res.Quantity,
		&status, &res.PaymentDeadline, &committed, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	res.Status = model.ReservationStatus(status)
	res.PaymentDeadline = res.PaymentDeadline.UTC()
	if committed.Valid {
		t := committed.Time.UTC()
		res.CommittedAt = &t
	}
	return &res, nil
}

// CreateTx inserts a new reservation within the scope of an existing
// transaction.  The caller supplies the opaque ID and all business
// fields; timestamps are set here.  The caller must commit or roll
// back the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	now := time.Now().UTC()
	const q = `INSERT INTO reservations (id, item_id, buyer_id, destination, quantity,
	             status, payment_deadline, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, res.ID, res.ItemID, res.BuyerID, res.Destination,
		res.Quantity, string(res.Status), res.PaymentDeadline.UTC(), now, now)
	if err != nil {
		return err
	}
	res.CreatedAt = now
	res.UpdatedAt = now
	return nil
}

// GetByID returns a reservation by its opaque identifier.  It returns
// ErrReservationNotFound when no such reservation exists.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	row := r.db.QueryRowContext(ctx, q, id)
	return scanReservation(row.Scan)
}

// GetByIDTx is GetByID within an existing transaction.  The ledger
// calls it under the item lock before deciding a transition.
func (r *ReservationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id string) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	row := tx.QueryRowContext(ctx, q, id)
	return scanReservation(row.Scan)
}

// SetStatusTx transitions a reservation to the given status, but only
// when the reservation is still PENDING.  It returns
// ErrAlreadyTerminal when the guard fails, which is how the
// commit/expire race resolves: exactly one writer observes PENDING.
// When the new status is COMMITTED the committed_at timestamp is set.
func (r *ReservationRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.ReservationStatus, now time.Time) error {
	now = now.UTC()
	var res sql.Result
	var err error
	if status == model.ReservationCommitted {
		const q = `UPDATE reservations SET status = ?, committed_at = ?, updated_at = ?
		           WHERE id = ? AND status = ?`
		res, err = tx.ExecContext(ctx, q, string(status), now, now, id, string(model.ReservationPending))
	} else {
		const q = `UPDATE reservations SET status = ?, updated_at = ?
		           WHERE id = ? AND status = ?`
		res, err = tx.ExecContext(ctx, q, string(status), now, id, string(model.ReservationPending))
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish "no such reservation" from "lost the race".
		const sel = `SELECT status FROM reservations WHERE id = ?`
		var current string
		if serr := tx.QueryRowContext(ctx, sel, id).Scan(&current); serr != nil {
			if errors.Is(serr, sql.ErrNoRows) {
				return ErrReservationNotFound
			}
			return serr
		}
		return ErrAlreadyTerminal
	}
	return nil
}

// ListOverduePending returns reservations still PENDING whose payment
// deadline is at or before the given instant.  The sweeper releases
// each of them; any that settle concurrently simply fail the PENDING
// guard later.
func (r *ReservationRepo) ListOverduePending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + `
	           FROM reservations
	           WHERE status = ? AND payment_deadline <= ?
	           ORDER BY payment_deadline ASC
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, string(model.ReservationPending), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
