package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/granjafresh/ovostock/internal/model"
)

// ItemRepo provides data access to the items table.  Availability is
// only ever written through the transactional methods so that every
// change is paired with a stock movement by the ledger.  All
// timestamps are stored and compared in UTC.
type ItemRepo struct {
	db *sql.DB
}

// NewItemRepo returns a new ItemRepo bound to the provided database.
func NewItemRepo(db *sql.DB) *ItemRepo { return &ItemRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// that span items, reservations and movements.
func (r *ItemRepo) DB() *sql.DB { return r.db }

const itemColumns = `id, name, category, farm_name, origin, available_qty,
                     min_safety_stock, expires_at, unit_price_cents, active,
                     created_at, updated_at`

func scanItem(row *sql.Row) (*model.Item, error) {
	var it model.Item
	var expires sql.NullTime
	err := row.Scan(
		&it.ID, &it.Name, &it.Category, &it.FarmName, &it.Origin,
		&it.AvailableQty, &it.MinSafetyStock, &expires,
		&it.UnitPriceCents, &it.Active, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	if expires.Valid {
		t := expires.Time.UTC()
		it.ExpiresAt = &t
	}
	return &it, nil
}

// GetByID returns a single item by its identifier.  It returns
// ErrItemNotFound when no such item exists.
func (r *ItemRepo) GetByID(ctx context.Context, id uint64) (*model.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE id = ?`
	return scanItem(r.db.QueryRowContext(ctx, q, id))
}

// GetByIDTx is GetByID executed within an existing transaction.  The
// ledger calls it while holding the item's lock so that the
// availability it reads is the one it will write against.
func (r *ItemRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE id = ?`
	return scanItem(tx.QueryRowContext(ctx, q, id))
}

// UpdateAvailableTx writes a new available quantity for the item
// within the provided transaction.  Only the ledger may call this;
// every call must be paired with a stock movement whose balance
// equals qty.  The caller must commit or roll back the transaction.
func (r *ItemRepo) UpdateAvailableTx(ctx context.Context, tx *sql.Tx, id uint64, qty uint32, now time.Time) error {
	const q = `UPDATE items SET available_qty = ?, updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, qty, now.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ListSubstitutes returns active items of the same category whose
// expiry is strictly after the given instant or absent, excluding the
// item itself.  Results are ranked soonest expiry first; items with
// no expiry sort after all dated items; they are a fallback, not a
// freshness winner.
func (r *ItemRepo) ListSubstitutes(ctx context.Context, category string, after time.Time, excludeID uint64, limit int) ([]model.Item, error) {
	const q = `SELECT ` + itemColumns + `
	           FROM items
	           WHERE category = ? AND id <> ? AND active = ? AND available_qty > 0
	             AND (expires_at IS NULL OR expires_at > ?)
	           ORDER BY CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at ASC
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, category, excludeID, true, after.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Item, 0)
	for rows.Next() {
		var it model.Item
		var expires sql.NullTime
		if err := rows.Scan(
			&it.ID, &it.Name, &it.Category, &it.FarmName, &it.Origin,
			&it.AvailableQty, &it.MinSafetyStock, &expires,
			&it.UnitPriceCents, &it.Active, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time.UTC()
			it.ExpiresAt = &t
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Create inserts a new item and populates its generated ID.  It is
// used by seeding and by farm-side stock onboarding, not by the
// purchase path.
func (r *ItemRepo) Create(ctx context.Context, it *model.Item) error {
	now := time.Now().UTC()
	const q = `INSERT INTO items (name, category, farm_name, origin, available_qty,
	             min_safety_stock, expires_at, unit_price_cents, active, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var expires interface{}
	if it.ExpiresAt != nil {
		expires = it.ExpiresAt.UTC()
	}
	res, err := r.db.ExecContext(ctx, q, it.Name, it.Category, it.FarmName, it.Origin,
		it.AvailableQty, it.MinSafetyStock, expires, it.UnitPriceCents, it.Active, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = uint64(id)
	it.CreatedAt = now
	it.UpdatedAt = now
	return nil
}
