package payment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granjafresh/ovostock/internal/ledger"
	"github.com/granjafresh/ovostock/internal/model"
	"github.com/granjafresh/ovostock/internal/queue"
	"github.com/granjafresh/ovostock/internal/repository"
)

type fakeDelivery struct {
	mu     sync.Mutex
	events []queue.DeliveryRequestedEvent
	err    error
}

func (f *fakeDelivery) ScheduleDelivery(_ context.Context, ev queue.DeliveryRequestedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeRefunds struct {
	mu     sync.Mutex
	events []queue.RefundRequestedEvent
	err    error
}

func (f *fakeRefunds) RequestRefund(_ context.Context, ev queue.RefundRequestedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type settlementFixture struct {
	items        *repository.ItemRepo
	reservations *repository.ReservationRepo
	charges      *repository.PaymentChargeRepo
	ledger       *ledger.Ledger
	delivery     *fakeDelivery
	refunds      *fakeRefunds
	settlement   *Settlement
}

func newSettlementFixture(t *testing.T, holdWindow time.Duration) *settlementFixture {
	t.Helper()
	db := newPaymentTestDB(t)
	items := repository.NewItemRepo(db)
	reservations := repository.NewReservationRepo(db)
	movements := repository.NewStockMovementRepo(db)
	charges := repository.NewPaymentChargeRepo(db)
	l := ledger.New(db, items, reservations, movements, holdWindow)
	delivery := &fakeDelivery{}
	refunds := &fakeRefunds{}
	return &settlementFixture{
		items:        items,
		reservations: reservations,
		charges:      charges,
		ledger:       l,
		delivery:     delivery,
		refunds:      refunds,
		settlement:   NewSettlement(items, reservations, charges, l, delivery, refunds),
	}
}

// seedSale creates an item, holds qty units and issues a pending
// charge for the hold, returning both sides of the sale.
func (f *settlementFixture) seedSale(t *testing.T, available uint32, qty uint32) (*model.Reservation, *model.PaymentCharge) {
	t.Helper()
	ctx := context.Background()
	item := &model.Item{
		Name:           "Caipira Extra Grande",
		Category:       "caipira",
		FarmName:       "Granja Boa Vista",
		Origin:         "MG",
		AvailableQty:   available,
		UnitPriceCents: 1890,
		Active:         true,
	}
	require.NoError(t, f.items.Create(ctx, item))
	res, err := f.ledger.Hold(ctx, item.ID, 7, "30130-010", qty)
	require.NoError(t, err)
	ch := &model.PaymentCharge{
		TxID:          NewTxID(),
		ReservationID: res.ID,
		AmountCents:   uint64(item.UnitPriceCents) * uint64(qty),
		QRCode:        "00020126pix-payload",
		ExpiresAt:     res.PaymentDeadline,
		Status:        model.ChargePending,
	}
	require.NoError(t, f.charges.Create(ctx, ch))
	return res, ch
}

func paidEvent(txid string) queue.ConfirmationEvent {
	return queue.ConfirmationEvent{
		TxID:       txid,
		Status:     "paid",
		RawPayload: json.RawMessage(`{"pix":[{"txid":"` + txid + `","status":"paid"}]}`),
	}
}

func TestHandleConfirmationPaid(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	require.NoError(t, f.settlement.HandleConfirmation(ctx, paidEvent(ch.TxID)))

	r, err := f.reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCommitted, r.Status)

	c, err := f.charges.GetByTxID(ctx, ch.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargePaid, c.Status)
	require.NotNil(t, c.PaidAt)
	assert.JSONEq(t, string(paidEvent(ch.TxID).RawPayload), string(c.RawPayload))

	require.Len(t, f.delivery.events, 1)
	ev := f.delivery.events[0]
	assert.Equal(t, res.ID, ev.ReservationID)
	assert.Equal(t, "Caipira Extra Grande", ev.ItemName)
	assert.Equal(t, uint32(4), ev.Quantity)
	assert.Equal(t, "30130-010", ev.Destination)
	assert.Equal(t, "high", ev.Priority)

	start, err := time.Parse(time.RFC3339, ev.WindowStart)
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339, ev.WindowEnd)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, end.Sub(start))

	assert.Empty(t, f.refunds.events)
}

// At-least-once delivery: replaying the same paid confirmation must
// produce exactly one commit and one delivery request in total.
func TestHandleConfirmationPaidReplayIsNoOp(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.settlement.HandleConfirmation(ctx, paidEvent(ch.TxID)))
	}

	assert.Len(t, f.delivery.events, 1)

	movs := 0
	rows, err := f.charges.DB().Query(`SELECT COUNT(*) FROM stock_movements WHERE reason = 'reservation_commit'`)
	require.NoError(t, err)
	for rows.Next() {
		require.NoError(t, rows.Scan(&movs))
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, 1, movs, "exactly one commit movement regardless of redeliveries")

	r, err := f.reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCommitted, r.Status)
}

// Payment landed after the sweeper reclaimed the stock: the charge
// fails with the race reason, a refund signal goes out and the stock
// is never re-allocated.
func TestHandleConfirmationPaidAfterExpiry(t *testing.T) {
	f := newSettlementFixture(t, -time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	require.NoError(t, f.ledger.Release(ctx, res.ID, ledger.CauseExpired))

	require.NoError(t, f.settlement.HandleConfirmation(ctx, paidEvent(ch.TxID)))

	c, err := f.charges.GetByTxID(ctx, ch.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargeFailed, c.Status)
	require.NotNil(t, c.FailReason)
	assert.Equal(t, ReasonExpiredBeforePayment, *c.FailReason)

	require.Len(t, f.refunds.events, 1)
	refund := f.refunds.events[0]
	assert.Equal(t, ch.TxID, refund.TxID)
	assert.Equal(t, res.ID, refund.ReservationID)
	assert.Equal(t, ch.AmountCents, refund.AmountCents)
	assert.Equal(t, ReasonExpiredBeforePayment, refund.Reason)

	assert.Empty(t, f.delivery.events)

	item, err := f.items.GetByID(ctx, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), item.AvailableQty, "released stock stays released")

	r, err := f.reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, r.Status)
}

func TestHandleConfirmationFailed(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	ev := queue.ConfirmationEvent{TxID: ch.TxID, Status: "rejected"}
	require.NoError(t, f.settlement.HandleConfirmation(ctx, ev))

	c, err := f.charges.GetByTxID(ctx, ch.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargeFailed, c.Status)

	// The hold is left for the sweeper; a failed payment does not
	// short-circuit the payment window.
	r, err := f.reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, r.Status)
	assert.Empty(t, f.delivery.events)
	assert.Empty(t, f.refunds.events)
}

func TestHandleConfirmationExpired(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	_, ch := f.seedSale(t, 10, 4)

	ev := queue.ConfirmationEvent{TxID: ch.TxID, Status: "expired"}
	require.NoError(t, f.settlement.HandleConfirmation(context.Background(), ev))

	c, err := f.charges.GetByTxID(context.Background(), ch.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargeExpired, c.Status)
	assert.Nil(t, c.FailReason)
}

func TestHandleConfirmationUnknownTxID(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)

	err := f.settlement.HandleConfirmation(context.Background(), paidEvent("OVO00000000000000DEADBEEF"))
	assert.ErrorIs(t, err, repository.ErrChargeNotFound)
}

func TestHandleConfirmationUnknownStatusIsDropped(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	ev := queue.ConfirmationEvent{TxID: ch.TxID, Status: "devolvida"}
	require.NoError(t, f.settlement.HandleConfirmation(ctx, ev))

	c, err := f.charges.GetByTxID(ctx, ch.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargePending, c.Status, "unknown statuses must not touch state")

	r, err := f.reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, r.Status)
}

// A run cut short between the reservation commit and the rest of the
// settlement leaves a COMMITTED reservation behind a pending charge.
// The redelivered confirmation must finish that settlement, never
// refund the won sale.
func TestHandleConfirmationResumesAfterPartialCommit(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	// Committed reservation, charge still PENDING.
	_, err := f.ledger.Commit(ctx, res.ID)
	require.NoError(t, err)

	require.NoError(t, f.settlement.HandleConfirmation(ctx, paidEvent(ch.TxID)))

	c, err := f.charges.GetByTxID(ctx, ch.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargePaid, c.Status)
	require.NotNil(t, c.PaidAt)
	assert.JSONEq(t, string(paidEvent(ch.TxID).RawPayload), string(c.RawPayload))

	assert.Len(t, f.delivery.events, 1)
	assert.Empty(t, f.refunds.events, "a committed sale must never be refunded")

	item, err := f.items.GetByID(ctx, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), item.AvailableQty, "committed stock stays committed")
}

// Two concurrent deliveries of one paid confirmation both pass the
// entry gate; exactly one may settle and the loser must drop out
// without refunding or failing the charge.
func TestHandleConfirmationConcurrentPaidDeliveries(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.settlement.HandleConfirmation(ctx, paidEvent(ch.TxID))
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	c, err := f.charges.GetByTxID(ctx, ch.TxID)
	require.NoError(t, err)
	assert.Equal(t, model.ChargePaid, c.Status)

	r, err := f.reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCommitted, r.Status)

	assert.Len(t, f.delivery.events, 1)
	assert.Empty(t, f.refunds.events)

	movs := 0
	rows, err := f.charges.DB().Query(`SELECT COUNT(*) FROM stock_movements WHERE reason = 'reservation_commit'`)
	require.NoError(t, err)
	for rows.Next() {
		require.NoError(t, rows.Scan(&movs))
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, 1, movs)
}

// A paid confirmation for an already-expired charge record is ignored
// by the status gate before any race handling runs.
func TestHandleConfirmationPaidOnExpiredCharge(t *testing.T) {
	f := newSettlementFixture(t, 30*time.Minute)
	res, ch := f.seedSale(t, 10, 4)
	ctx := context.Background()

	require.NoError(t, f.charges.MarkStatus(ctx, ch.TxID, model.ChargeExpired, nil, time.Now().UTC()))

	require.NoError(t, f.settlement.HandleConfirmation(ctx, paidEvent(ch.TxID)))

	r, err := f.reservations.GetByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, r.Status)
	assert.Empty(t, f.delivery.events)
	assert.Empty(t, f.refunds.events)
}
