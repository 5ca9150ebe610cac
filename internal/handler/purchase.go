package handler

import (
	"errors"   // for errors.Is/As comparisons
	"net/http" // HTTP status codes
	"strconv"  // parsing path parameters
	"time"     // formatting timestamps

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/granjafresh/ovostock/internal/ledger"
	"github.com/granjafresh/ovostock/internal/payment"
	"github.com/granjafresh/ovostock/internal/repository"
	"github.com/granjafresh/ovostock/internal/validity"
)

// PurchaseHandler groups the collaborators needed to sell perishable
// stock: the validity evaluator, the reservation ledger and the
// payment issuer.  The critical stock mutation runs inside the
// ledger's per-item transaction; the two network calls (ETA estimate
// and charge creation) happen outside any lock.
type PurchaseHandler struct {
	Items        *repository.ItemRepo          // item lookups
	Reservations *repository.ReservationRepo   // reservation status reads
	Charges      *repository.PaymentChargeRepo // charge reads for status endpoint
	Ledger       *ledger.Ledger                // Hold/Release/Commit core
	Evaluator    *validity.Evaluator           // deliverability decisions
	Issuer       *payment.Issuer               // PIX charge creation
}

// NewPurchaseHandler constructs a PurchaseHandler with the provided
// collaborators.  All dependencies must be non-nil.
func NewPurchaseHandler(items *repository.ItemRepo, reservations *repository.ReservationRepo, charges *repository.PaymentChargeRepo, l *ledger.Ledger, ev *validity.Evaluator, issuer *payment.Issuer) *PurchaseHandler {
	if items == nil || reservations == nil || charges == nil || l == nil || ev == nil || issuer == nil {
		panic("nil dependency passed to NewPurchaseHandler")
	}
	return &PurchaseHandler{
		Items:        items,
		Reservations: reservations,
		Charges:      charges,
		Ledger:       l,
		Evaluator:    ev,
		Issuer:       issuer,
	}
}

// Buy handles POST /v1/items/:id/purchase.  It validates
// deliverability against the item's expiry, atomically holds stock,
// issues a time-boxed PIX charge and returns the payment instruction
// bundle.  Rejections are structured: a reason code plus whatever
// alternatives apply, so the storefront can offer substitutes or a
// restock date without another round trip.
func (h *PurchaseHandler) Buy(c echo.Context) error {
	itemID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || itemID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid item id"})
	}
	var body struct {
		Quantity    uint32 `json:"quantity"`
		Destination string `json:"destination"`
		BuyerID     uint64 `json:"buyer_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Quantity == 0 {
		body.Quantity = 1
	}
	if body.Destination == "" || body.BuyerID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "destination and buyer_id are required"})
	}

	ctx := c.Request().Context()
	item, err := h.Items.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if !item.Active {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
	}

	eval, err := h.Evaluator.Evaluate(ctx, item, body.Quantity, body.Destination)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to evaluate deliverability"})
	}
	if !eval.Deliverable {
		if eval.Reason == validity.ReasonETAUnavailable {
			// Logistics is down, not the order; the caller may retry.
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"reason": eval.Reason})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{
			"reason":       eval.Reason,
			"alternatives": alternatives(eval),
		})
	}

	res, err := h.Ledger.Hold(ctx, itemID, body.BuyerID, body.Destination, body.Quantity)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			// Lost a concurrent race after the evaluator's read.
			return c.JSON(http.StatusConflict, echo.Map{"reason": "insufficient_stock"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to reserve stock"})
	}

	charge, err := h.Issuer.IssueCharge(ctx, res, item, *eval.EstimatedDelivery)
	if err != nil {
		var perr *payment.ProviderError
		if errors.As(err, &perr) {
			// The hold stays; the buyer may retry issuance or cancel.
			// The sweeper reclaims the stock if neither happens.
			return c.JSON(http.StatusBadGateway, echo.Map{
				"error":            "payment_provider_unavailable",
				"reservation_id":   res.ID,
				"payment_deadline": res.PaymentDeadline.Format(time.RFC3339),
			})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to issue charge"})
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"reservation_id":     res.ID,
		"payment_deadline":   res.PaymentDeadline.Format(time.RFC3339),
		"estimated_delivery": eval.EstimatedDelivery.Format(time.RFC3339),
		"delivery_window":    eval.DeliveryWindow,
		"care_advice":        eval.CareAdvice,
		"charge": echo.Map{
			"txid":         charge.TxID,
			"amount_cents": charge.AmountCents,
			"qr_code":      charge.QRCode,
			"expires_at":   charge.ExpiresAt.Format(time.RFC3339),
		},
	})
}

// Cancel handles DELETE /v1/reservations/:id.  It releases the hold
// back to the pool with the cancelled cause.  A reservation that
// already reached a terminal state is reported, not failed: losing
// the race to the sweeper or to settlement is a normal outcome for
// the buyer too.
func (h *PurchaseHandler) Cancel(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	ctx := c.Request().Context()
	err := h.Ledger.Release(ctx, id, ledger.CauseCancelled)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"cancelled": true})
	case errors.Is(err, repository.ErrReservationNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case errors.Is(err, repository.ErrAlreadyTerminal):
		res, gerr := h.Reservations.GetByID(ctx, id)
		if gerr != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		return c.JSON(http.StatusOK, echo.Map{
			"cancelled": false,
			"status":    string(res.Status),
		})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel reservation"})
	}
}

// Status handles GET /v1/reservations/:id.  It returns the
// reservation's lifecycle state together with its charge, when one
// was issued.
func (h *PurchaseHandler) Status(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	ctx := c.Request().Context()
	res, err := h.Reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := echo.Map{
		"reservation_id":   res.ID,
		"item_id":          res.ItemID,
		"quantity":         res.Quantity,
		"status":           string(res.Status),
		"payment_deadline": res.PaymentDeadline.Format(time.RFC3339),
	}
	if res.CommittedAt != nil {
		out["committed_at"] = res.CommittedAt.Format(time.RFC3339)
	}
	charge, err := h.Charges.GetByReservationID(ctx, id)
	if err == nil {
		out["charge"] = echo.Map{
			"txid":         charge.TxID,
			"status":       string(charge.Status),
			"amount_cents": charge.AmountCents,
			"expires_at":   charge.ExpiresAt.Format(time.RFC3339),
		}
	} else if !errors.Is(err, repository.ErrChargeNotFound) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, out)
}

// alternatives flattens the evaluator's alternatives for the
// rejection body: substitute items for validity conflicts, the next
// restock date for stock shortfalls.
func alternatives(eval *validity.Result) echo.Map {
	out := echo.Map{}
	if len(eval.Substitutes) > 0 {
		out["substitutes"] = eval.Substitutes
	}
	if eval.NextRestock != nil {
		out["next_restock"] = eval.NextRestock.Format(time.RFC3339)
	}
	return out
}
