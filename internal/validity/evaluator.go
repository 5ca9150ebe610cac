// Package validity decides whether a requested quantity of a
// perishable item can be delivered before it expires.  The evaluator
// is purely read-and-decide: it performs no writes and is safe to
// call from any number of goroutines at once.
package validity

import (
	"context"
	"time"

	"github.com/granjafresh/ovostock/internal/model"
)

// Reason codes carried on a non-deliverable result.  They are part of
// the HTTP contract and drive the buyer's retry-or-substitute choice.
const (
	ReasonETAUnavailable       = "eta_unavailable"
	ReasonValidityInsufficient = "validity_insufficient"
	ReasonInsufficientStock    = "insufficient_safety_stock"
)

// DeliveryWindow is the fixed window quoted to buyers once an order
// is deliverable.  CareAdvice is static policy text for perishables.
const (
	DeliveryWindow = "4 hours"
	CareAdvice     = "keep refrigerated immediately on receipt"
)

// ETAProvider estimates when a delivery to the destination would
// arrive.  It is the engine's only view of the logistics collaborator
// and may fail; failure makes the item non-deliverable with
// ReasonETAUnavailable, retryable by the caller.
type ETAProvider interface {
	Estimate(ctx context.Context, destination string) (time.Time, error)
}

// RestockPlanner knows the farm's restock cadence.  It is consulted
// only to suggest the next feasible date when stock is short; errors
// degrade to "no suggestion".
type RestockPlanner interface {
	NextRestock(ctx context.Context, itemID uint64) (time.Time, error)
}

// SubstituteSource lists same-category items that would still be
// fresh at the given instant, freshest first with undated items last.
// *repository.ItemRepo satisfies it.
type SubstituteSource interface {
	ListSubstitutes(ctx context.Context, category string, after time.Time, excludeID uint64, limit int) ([]model.Item, error)
}

// Substitute is one alternative item offered on a validity rejection.
type Substitute struct {
	ItemID         uint64     `json:"item_id"`
	Name           string     `json:"name"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	UnitPriceCents uint32     `json:"unit_price_cents"`
	AvailableQty   uint32     `json:"available_qty"`
}

// Result is the outcome of one evaluation.  When Deliverable is false
// the Reason is set and at most one of Substitutes or NextRestock
// carries the alternatives for that reason.
type Result struct {
	Deliverable       bool         `json:"deliverable"`
	Reason            string       `json:"reason,omitempty"`
	EstimatedDelivery *time.Time   `json:"estimated_delivery,omitempty"`
	DeliveryWindow    string       `json:"delivery_window,omitempty"`
	CareAdvice        string       `json:"care_advice,omitempty"`
	Substitutes       []Substitute `json:"substitutes,omitempty"`
	NextRestock       *time.Time   `json:"next_restock,omitempty"`
}

// Evaluator wires the collaborators needed to answer "can this order
// arrive before the eggs expire".
type Evaluator struct {
	eta        ETAProvider
	planner    RestockPlanner
	substitute SubstituteSource
	maxAlts    int
}

// NewEvaluator constructs an Evaluator.  eta and substitute must be
// non-nil; planner may be nil when no restock cadence is known.
func NewEvaluator(eta ETAProvider, planner RestockPlanner, substitute SubstituteSource) *Evaluator {
	if eta == nil || substitute == nil {
		panic("nil dependency passed to validity.NewEvaluator")
	}
	return &Evaluator{eta: eta, planner: planner, substitute: substitute, maxAlts: 5}
}

// Evaluate decides deliverability of qty units of item to destination.
// The ETA provider is consulted exactly once.  An estimate strictly
// after the item's expiry is undeliverable; an estimate at or before
// the expiry is fine.  A nil error with Deliverable=false is the
// normal rejection shape; errors are reserved for lookups that
// failed while building alternatives.
func (e *Evaluator) Evaluate(ctx context.Context, item *model.Item, qty uint32, destination string) (*Result, error) {
	eta, err := e.eta.Estimate(ctx, destination)
	if err != nil {
		return &Result{Deliverable: false, Reason: ReasonETAUnavailable}, nil
	}
	eta = eta.UTC()

	if item.ExpiresAt != nil && eta.After(*item.ExpiresAt) {
		subs, err := e.substitutes(ctx, item, eta)
		if err != nil {
			return nil, err
		}
		return &Result{
			Deliverable:       false,
			Reason:            ReasonValidityInsufficient,
			EstimatedDelivery: &eta,
			Substitutes:       subs,
		}, nil
	}

	if qty > item.SellableQty() {
		res := &Result{
			Deliverable:       false,
			Reason:            ReasonInsufficientStock,
			EstimatedDelivery: &eta,
		}
		if e.planner != nil {
			if next, err := e.planner.NextRestock(ctx, item.ID); err == nil {
				next = next.UTC()
				res.NextRestock = &next
			}
		}
		return res, nil
	}

	return &Result{
		Deliverable:       true,
		EstimatedDelivery: &eta,
		DeliveryWindow:    DeliveryWindow,
		CareAdvice:        CareAdvice,
	}, nil
}

func (e *Evaluator) substitutes(ctx context.Context, item *model.Item, eta time.Time) ([]Substitute, error) {
	items, err := e.substitute.ListSubstitutes(ctx, item.Category, eta, item.ID, e.maxAlts)
	if err != nil {
		return nil, err
	}
	subs := make([]Substitute, 0, len(items))
	for _, it := range items {
		subs = append(subs, Substitute{
			ItemID:         it.ID,
			Name:           it.Name,
			ExpiresAt:      it.ExpiresAt,
			UnitPriceCents: it.UnitPriceCents,
			AvailableQty:   it.AvailableQty,
		})
	}
	return subs, nil
}
