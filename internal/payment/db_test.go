package payment

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

var testSchema = []string{
	`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		farm_name TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		available_qty INTEGER NOT NULL,
		min_safety_stock INTEGER NOT NULL DEFAULT 0,
		expires_at DATETIME,
		unit_price_cents INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE reservations (
		id TEXT PRIMARY KEY,
		item_id INTEGER NOT NULL,
		buyer_id INTEGER NOT NULL,
		destination TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_deadline DATETIME NOT NULL,
		committed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		balance INTEGER NOT NULL,
		reason TEXT NOT NULL,
		reservation_id TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_charges (
		txid TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL UNIQUE,
		amount_cents INTEGER NOT NULL,
		qr_code TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		fail_reason TEXT,
		raw_payload BLOB,
		paid_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

func newPaymentTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=UTC", name))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	for _, stmt := range testSchema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
