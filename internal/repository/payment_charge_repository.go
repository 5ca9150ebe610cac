package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/granjafresh/ovostock/internal/model"
)

// PaymentChargeRepo provides data access to the payment_charges
// table.  A charge is keyed by the provider-assigned transaction id
// and pairs one-to-one with a reservation.  The raw provider payload
// is stored opaquely for audit and never interpreted here.
type PaymentChargeRepo struct {
	db *sql.DB
}

// NewPaymentChargeRepo returns a new PaymentChargeRepo bound to the given database.
func NewPaymentChargeRepo(db *sql.DB) *PaymentChargeRepo { return &PaymentChargeRepo{db: db} }

// DB exposes the underlying handle for callers that group charge
// writes into their own transaction.
func (r *PaymentChargeRepo) DB() *sql.DB { return r.db }

// Create persists a freshly issued charge.  The issuer calls it
// immediately after the provider accepts the charge request, before
// the payment instructions are returned to the buyer.
func (r *PaymentChargeRepo) Create(ctx context.Context, ch *model.PaymentCharge) error {
	now := time.Now().UTC()
	const q = `INSERT INTO payment_charges (txid, reservation_id, amount_cents, qr_code,
	             expires_at, status, raw_payload, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, ch.TxID, ch.ReservationID, ch.AmountCents, ch.QRCode,
		ch.ExpiresAt.UTC(), string(ch.Status), ch.RawPayload, now, now)
	if err != nil {
		return err
	}
	ch.CreatedAt = now
	ch.UpdatedAt = now
	return nil
}

func scanCharge(scan func(dest ...interface{}) error) (*model.PaymentCharge, error) {
	var ch model.PaymentCharge
	var status string
	var failReason sql.NullString
	var paidAt sql.NullTime
	err := scan(
		&ch.TxID, &ch.ReservationID, &ch.AmountCents, &ch.QRCode, &ch.ExpiresAt,
		&status, &failReason, &ch.RawPayload, &paidAt, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChargeNotFound
		}
		return nil, err
	}
	ch.Status = model.ChargeStatus(status)
	ch.ExpiresAt = ch.ExpiresAt.UTC()
	if failReason.Valid {
		s := failReason.String
		ch.FailReason = &s
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		ch.PaidAt = &t
	}
	return &ch, nil
}

const chargeColumns = `txid, reservation_id, amount_cents, qr_code, expires_at,
                       status, fail_reason, raw_payload, paid_at, created_at, updated_at`

// GetByTxID returns a charge by its provider transaction id.  It
// returns ErrChargeNotFound for unknown ids.
func (r *PaymentChargeRepo) GetByTxID(ctx context.Context, txid string) (*model.PaymentCharge, error) {
	const q = `SELECT ` + chargeColumns + ` FROM payment_charges WHERE txid = ?`
	row := r.db.QueryRowContext(ctx, q, txid)
	return scanCharge(row.Scan)
}

// GetByTxIDTx is GetByTxID within an existing transaction, used by
// the settlement handler so the idempotency check and the status
// write cannot interleave with a concurrent redelivery.
func (r *PaymentChargeRepo) GetByTxIDTx(ctx context.Context, tx *sql.Tx, txid string) (*model.PaymentCharge, error) {
	const q = `SELECT ` + chargeColumns + ` FROM payment_charges WHERE txid = ?`
	row := tx.QueryRowContext(ctx, q, txid)
	return scanCharge(row.Scan)
}

// GetByReservationID returns the charge paired with a reservation,
// or ErrChargeNotFound when the reservation never got one.
func (r *PaymentChargeRepo) GetByReservationID(ctx context.Context, reservationID string) (*model.PaymentCharge, error) {
	const q = `SELECT ` + chargeColumns + ` FROM payment_charges WHERE reservation_id = ?`
	row := r.db.QueryRowContext(ctx, q, reservationID)
	return scanCharge(row.Scan)
}

// MarkPaidTx marks a PENDING charge as PAID, recording the payment
// time and the raw confirmation payload.  The PENDING guard makes
// redeliveries of the same confirmation a no-op at the SQL level.
func (r *PaymentChargeRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, txid string, rawPayload []byte, now time.Time) error {
	now = now.UTC()
	const q = `UPDATE payment_charges SET status = ?, paid_at = ?, raw_payload = ?, updated_at = ?
	           WHERE txid = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, string(model.ChargePaid), now, rawPayload, now,
		txid, string(model.ChargePending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrChargeNotFound
	}
	return nil
}

// MarkStatusTx moves a PENDING charge to EXPIRED or FAILED with an
// optional reason.  Terminal charges are left untouched.
func (r *PaymentChargeRepo) MarkStatusTx(ctx context.Context, tx *sql.Tx, txid string, status model.ChargeStatus, reason *string, now time.Time) error {
	now = now.UTC()
	var reasonVal interface{}
	if reason != nil {
		reasonVal = *reason
	}
	const q = `UPDATE payment_charges SET status = ?, fail_reason = ?, updated_at = ?
	           WHERE txid = ? AND status = ?`
	_, err := tx.ExecContext(ctx, q, string(status), reasonVal, now, txid, string(model.ChargePending))
	return err
}

// MarkStatus is MarkStatusTx outside a transaction, used by the
// sweeper when it expires the charge paired with a lapsed hold.
func (r *PaymentChargeRepo) MarkStatus(ctx context.Context, txid string, status model.ChargeStatus, reason *string, now time.Time) error {
	now = now.UTC()
	var reasonVal interface{}
	if reason != nil {
		reasonVal = *reason
	}
	const q = `UPDATE payment_charges SET status = ?, fail_reason = ?, updated_at = ?
	           WHERE txid = ? AND status = ?`
	_, err := r.db.ExecContext(ctx, q, string(status), reasonVal, now, txid, string(model.ChargePending))
	return err
}
