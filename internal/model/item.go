package model

import "time"

// Item is a sellable perishable product (a batch of refrigerated
// eggs from one farm).  Available quantity is never mutated by ad-hoc
// arithmetic; every change goes through the ledger so that the
// stock_movements audit log stays consistent with the balance.
//
// Fields:
//  ID             – primary key identifier.
//  Name           – display name of the product.
//  Category       – product category used when ranking substitutes.
//  FarmName       – name of the producing farm (origin of the batch).
//  Origin         – origin/source identifier embedded in charge metadata.
//  AvailableQty   – units currently available for sale.
//  MinSafetyStock – units always kept back from online sale.
//  ExpiresAt      – batch expiry; nil means non-perishable.
//  UnitPriceCents – price per unit in cents.
//  Active         – whether the item is offered at all.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Item struct {
	ID             uint64     // items.id
	Name           string     // items.name
	Category       string     // items.category
	FarmName       string     // items.farm_name
	Origin         string     // items.origin
	AvailableQty   uint32     // items.available_qty
	MinSafetyStock uint32     // items.min_safety_stock
	ExpiresAt      *time.Time // items.expires_at (nullable)
	UnitPriceCents uint32     // items.unit_price_cents
	Active         bool       // items.active
	CreatedAt      time.Time  // items.created_at
	UpdatedAt      time.Time  // items.updated_at
}

// Perishable reports whether the item carries an expiry date.
func (i *Item) Perishable() bool { return i.ExpiresAt != nil }

// SellableQty is the quantity that may be sold online: available stock
// minus the safety margin the farm keeps back.  It never goes negative.
func (i *Item) SellableQty() uint32 {
	if i.AvailableQty <= i.MinSafetyStock {
		return 0
	}
	return i.AvailableQty - i.MinSafetyStock
}
