// Package cache provides a read-through availability cache over
// Redis.  Entries are keyed by a fingerprint of the query, carry an
// explicit TTL and are explicitly invalidated whenever the ledger
// mutates the item they describe, so staleness is bounded by whichever
// comes first.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/granjafresh/ovostock/internal/config"
	"github.com/granjafresh/ovostock/internal/model"
	"github.com/granjafresh/ovostock/internal/repository"
)

// Availability is the cached view of one item's sellable stock.
type Availability struct {
	ItemID       uint64     `json:"item_id"`
	Name         string     `json:"name"`
	AvailableQty uint32     `json:"available_qty"`
	SellableQty  uint32     `json:"sellable_qty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CachedAt     time.Time  `json:"cached_at"`
}

// AvailabilityCache reads item availability through Redis.  A nil
// Redis client or a disabled config degrades to direct database
// reads; cache failures are logged and treated as misses so the
// purchase path never depends on Redis being up.
type AvailabilityCache struct {
	cfg   config.CacheConfig
	rdb   *redis.Client
	items *repository.ItemRepo
}

// NewAvailabilityCache constructs an AvailabilityCache.  items must
// be non-nil; rdb may be nil.
func NewAvailabilityCache(cfg config.CacheConfig, rdb *redis.Client, items *repository.ItemRepo) *AvailabilityCache {
	if items == nil {
		panic("nil item repo passed to cache.NewAvailabilityCache")
	}
	return &AvailabilityCache{cfg: cfg, rdb: rdb, items: items}
}

func (c *AvailabilityCache) enabled() bool { return c.cfg.Enabled && c.rdb != nil }

// key builds a stable cache key from the query fingerprint, matching
// the prefix:sha1 shape used elsewhere for Redis keys.
func (c *AvailabilityCache) key(itemID uint64) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("item_availability:%d", itemID)))
	return fmt.Sprintf("%s:%x", c.cfg.Prefix, sum[:])
}

// Get returns the availability view for an item, from Redis when
// fresh and from the database otherwise.  Database results are
// written back with the configured TTL.
func (c *AvailabilityCache) Get(ctx context.Context, itemID uint64) (*Availability, error) {
	if c.enabled() {
		raw, err := c.rdb.Get(ctx, c.key(itemID)).Bytes()
		if err == nil {
			var av Availability
			if uerr := json.Unmarshal(raw, &av); uerr == nil {
				return &av, nil
			}
			// Corrupt entry: fall through to the database and overwrite.
		} else if err != redis.Nil {
			log.Printf("cache: get item %d failed: %v", itemID, err)
		}
	}

	item, err := c.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	av := fromItem(item)
	if c.enabled() {
		if raw, err := json.Marshal(av); err == nil {
			if err := c.rdb.Set(ctx, c.key(itemID), raw, c.cfg.TTL).Err(); err != nil {
				log.Printf("cache: set item %d failed: %v", itemID, err)
			}
		}
	}
	return av, nil
}

// InvalidateItem drops the cached entry for an item.  The ledger
// calls it after every committed Hold, Release, Commit or adjustment
// so readers never see availability older than the last mutation plus
// one round trip.
func (c *AvailabilityCache) InvalidateItem(ctx context.Context, itemID uint64) {
	if !c.enabled() {
		return
	}
	if err := c.rdb.Del(ctx, c.key(itemID)).Err(); err != nil {
		log.Printf("cache: invalidate item %d failed: %v", itemID, err)
	}
}

func fromItem(item *model.Item) *Availability {
	return &Availability{
		ItemID:       item.ID,
		Name:         item.Name,
		AvailableQty: item.AvailableQty,
		SellableQty:  item.SellableQty(),
		ExpiresAt:    item.ExpiresAt,
		CachedAt:     time.Now().UTC(),
	}
}
