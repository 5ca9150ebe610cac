package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granjafresh/ovostock/internal/model"
)

func newRepoTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=UTC", name))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	stmts := []string{
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
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedSubstituteCandidate(t *testing.T, repo *ItemRepo, name, category string, expiry *time.Time, available uint32, active bool) *model.Item {
	t.Helper()
	item := &model.Item{
		Name:           name,
		Category:       category,
		AvailableQty:   available,
		UnitPriceCents: 1890,
		ExpiresAt:      expiry,
		Active:         active,
	}
	require.NoError(t, repo.Create(context.Background(), item))
	return item
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewItemRepo(newRepoTestDB(t))
	_, err := repo.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

// Substitutes come back freshest-expiring-first with undated items
// last; anything stale at the arrival instant, inactive, out of
// stock, off-category or the rejected item itself is filtered out.
func TestListSubstitutesOrderingAndFilters(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewItemRepo(db)
	arrival := time.Now().UTC().Add(3 * time.Hour)

	soon := arrival.Add(24 * time.Hour)
	later := arrival.Add(96 * time.Hour)
	stale := arrival.Add(-time.Hour)

	rejected := seedSubstituteCandidate(t, repo, "Rejected", "caipira", &stale, 10, true)
	undated := seedSubstituteCandidate(t, repo, "Undated", "caipira", nil, 10, true)
	lateItem := seedSubstituteCandidate(t, repo, "Later", "caipira", &later, 10, true)
	soonItem := seedSubstituteCandidate(t, repo, "Soon", "caipira", &soon, 10, true)
	seedSubstituteCandidate(t, repo, "Stale", "caipira", &stale, 10, true)
	seedSubstituteCandidate(t, repo, "Inactive", "caipira", &later, 10, false)
	seedSubstituteCandidate(t, repo, "OutOfStock", "caipira", &later, 0, true)
	seedSubstituteCandidate(t, repo, "OtherCategory", "branco", &later, 10, true)

	subs, err := repo.ListSubstitutes(context.Background(), "caipira", arrival, rejected.ID, 5)
	require.NoError(t, err)

	require.Len(t, subs, 3)
	assert.Equal(t, soonItem.ID, subs[0].ID)
	assert.Equal(t, lateItem.ID, subs[1].ID)
	assert.Equal(t, undated.ID, subs[2].ID, "undated items rank last")
}

func TestListSubstitutesHonorsLimit(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewItemRepo(db)
	arrival := time.Now().UTC()

	for i := 0; i < 8; i++ {
		expiry := arrival.Add(time.Duration(i+1) * 24 * time.Hour)
		seedSubstituteCandidate(t, repo, fmt.Sprintf("Candidate %d", i), "caipira", &expiry, 10, true)
	}

	subs, err := repo.ListSubstitutes(context.Background(), "caipira", arrival, 0, 5)
	require.NoError(t, err)
	assert.Len(t, subs, 5)
}

func seedPendingReservation(t *testing.T, db *sql.DB, repo *ReservationRepo, id string, deadline time.Time) {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	res := &model.Reservation{
		ID:              id,
		ItemID:          1,
		BuyerID:         7,
		Destination:     "30130-010",
		Quantity:        2,
		Status:          model.ReservationPending,
		PaymentDeadline: deadline,
	}
	require.NoError(t, repo.CreateTx(context.Background(), tx, res))
	require.NoError(t, tx.Commit())
}

// A terminal reservation is never rewritten; the update distinguishes
// "gone" from "already settled" so callers can branch on it.
func TestSetStatusTxGuardsTerminalStates(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewReservationRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()
	seedPendingReservation(t, db, repo, "res-1", now.Add(30*time.Minute))

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.SetStatusTx(ctx, tx, "res-1", model.ReservationCommitted, now))
	require.NoError(t, tx.Commit())

	res, err := repo.GetByID(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCommitted, res.Status)
	require.NotNil(t, res.CommittedAt)

	tx, err = db.Begin()
	require.NoError(t, err)
	err = repo.SetStatusTx(ctx, tx, "res-1", model.ReservationExpired, now)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	require.NoError(t, tx.Rollback())

	tx, err = db.Begin()
	require.NoError(t, err)
	err = repo.SetStatusTx(ctx, tx, "missing", model.ReservationExpired, now)
	assert.ErrorIs(t, err, ErrReservationNotFound)
	require.NoError(t, tx.Rollback())
}

func TestListOverduePending(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewReservationRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPendingReservation(t, db, repo, "overdue-1", now.Add(-10*time.Minute))
	seedPendingReservation(t, db, repo, "overdue-2", now.Add(-time.Minute))
	seedPendingReservation(t, db, repo, "fresh", now.Add(20*time.Minute))

	overdue, err := repo.ListOverduePending(ctx, now, 100)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	ids := []string{overdue[0].ID, overdue[1].ID}
	assert.ElementsMatch(t, []string{"overdue-1", "overdue-2"}, ids)
}
