package handler

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/granjafresh/ovostock/internal/ledger"
	"github.com/granjafresh/ovostock/internal/model"
	"github.com/granjafresh/ovostock/internal/payment"
	"github.com/granjafresh/ovostock/internal/queue"
	"github.com/granjafresh/ovostock/internal/repository"
	"github.com/granjafresh/ovostock/internal/validity"
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

// stubETA returns a fixed delivery estimate.
type stubETA struct {
	eta time.Time
	err error
}

func (s *stubETA) Estimate(_ context.Context, _ string) (time.Time, error) { return s.eta, s.err }

// stubProvider accepts every charge request.
type stubProvider struct {
	err error
}

func (s *stubProvider) CreateCharge(_ context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &payment.ChargeResult{TxID: req.TxID, QRCode: "00020126pix-payload", RawPayload: []byte(`{"status":"ATIVA"}`)}, nil
}

type stubFees struct{ fee uint32 }

func (s *stubFees) Quote(_ context.Context, _ string) (uint32, error) { return s.fee, nil }

type stubDelivery struct{ events []queue.DeliveryRequestedEvent }

func (s *stubDelivery) ScheduleDelivery(_ context.Context, ev queue.DeliveryRequestedEvent) error {
	s.events = append(s.events, ev)
	return nil
}

type stubRefunds struct{ events []queue.RefundRequestedEvent }

func (s *stubRefunds) RequestRefund(_ context.Context, ev queue.RefundRequestedEvent) error {
	s.events = append(s.events, ev)
	return nil
}

// stack wires the whole engine against an in-memory database with the
// two network collaborators stubbed out.
type stack struct {
	db           *sql.DB
	items        *repository.ItemRepo
	reservations *repository.ReservationRepo
	charges      *repository.PaymentChargeRepo
	ledger       *ledger.Ledger
	eta          *stubETA
	provider     *stubProvider
	delivery     *stubDelivery
	refunds      *stubRefunds
	purchase     *PurchaseHandler
	webhook      *WebhookHandler
}

func newStack(t *testing.T) *stack {
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

	items := repository.NewItemRepo(db)
	reservations := repository.NewReservationRepo(db)
	movements := repository.NewStockMovementRepo(db)
	charges := repository.NewPaymentChargeRepo(db)
	l := ledger.New(db, items, reservations, movements, 30*time.Minute)

	eta := &stubETA{eta: time.Now().UTC().Add(3 * time.Hour)}
	evaluator := validity.NewEvaluator(eta, nil, items)
	provider := &stubProvider{}
	issuer := payment.NewIssuer(provider, &stubFees{fee: 850}, charges)
	delivery := &stubDelivery{}
	refunds := &stubRefunds{}
	settlement := payment.NewSettlement(items, reservations, charges, l, delivery, refunds)

	return &stack{
		db:           db,
		items:        items,
		reservations: reservations,
		charges:      charges,
		ledger:       l,
		eta:          eta,
		provider:     provider,
		delivery:     delivery,
		refunds:      refunds,
		purchase:     NewPurchaseHandler(items, reservations, charges, l, evaluator, issuer),
		webhook:      NewWebhookHandler(settlement),
	}
}

func (s *stack) seedItem(t *testing.T, available, safety uint32, expiry *time.Time) *model.Item {
	t.Helper()
	item := &model.Item{
		Name:           "Caipira Extra Grande",
		Category:       "caipira",
		FarmName:       "Granja Boa Vista",
		Origin:         "MG",
		AvailableQty:   available,
		MinSafetyStock: safety,
		ExpiresAt:      expiry,
		UnitPriceCents: 1890,
		Active:         true,
	}
	require.NoError(t, s.items.Create(context.Background(), item))
	return item
}
