package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/granjafresh/ovostock/internal/payment"
	"github.com/granjafresh/ovostock/internal/queue"
	"github.com/granjafresh/ovostock/internal/repository"
)

// WebhookHandler receives asynchronous payment confirmations from
// the PIX provider.  Delivery is at-least-once, so the settlement
// handler behind it is idempotent; replays of an already-settled
// charge acknowledge with 200 and do nothing.
type WebhookHandler struct {
	Settlement *payment.Settlement
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(s *payment.Settlement) *WebhookHandler {
	if s == nil {
		panic("nil settlement passed to NewWebhookHandler")
	}
	return &WebhookHandler{Settlement: s}
}

// pixWebhookBody mirrors the provider's confirmation payload: a list
// of settled PIX entries, each with the transaction id and status.
type pixWebhookBody struct {
	Pix []struct {
		TxID   string `json:"txid"`
		Status string `json:"status"`
	} `json:"pix"`
}

// Confirm handles POST /v1/payments/webhook.  Unknown transaction
// ids are logged and acknowledged with 404 so the provider stops
// retrying a confirmation this engine can never act on.
func (h *WebhookHandler) Confirm(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false})
	}
	var body pixWebhookBody
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Pix) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false})
	}

	ctx := c.Request().Context()
	for _, entry := range body.Pix {
		ev := queue.ConfirmationEvent{
			TxID:       entry.TxID,
			Status:     entry.Status,
			RawPayload: raw,
		}
		if err := h.Settlement.HandleConfirmation(ctx, ev); err != nil {
			if errors.Is(err, repository.ErrChargeNotFound) {
				// Misrouted or duplicate provider-side notification.
				log.Printf("webhook: unknown charge %s, dropping", entry.TxID)
				return c.JSON(http.StatusNotFound, echo.Map{"success": false})
			}
			log.Printf("webhook: settle %s failed: %v", entry.TxID, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
