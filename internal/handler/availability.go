package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/granjafresh/ovostock/internal/cache"
	"github.com/granjafresh/ovostock/internal/repository"
)

// AvailabilityHandler serves the cached availability view of an item.
// Reads go through the Redis read-through cache; freshness is bounded
// by the cache TTL and by the explicit invalidation the ledger
// performs on every stock mutation.
type AvailabilityHandler struct {
	Cache *cache.AvailabilityCache
}

// NewAvailabilityHandler constructs an AvailabilityHandler.
func NewAvailabilityHandler(c *cache.AvailabilityCache) *AvailabilityHandler {
	if c == nil {
		panic("nil cache passed to NewAvailabilityHandler")
	}
	return &AvailabilityHandler{Cache: c}
}

// Get handles GET /v1/items/:id/availability.
func (h *AvailabilityHandler) Get(c echo.Context) error {
	itemID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || itemID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid item id"})
	}
	av, err := h.Cache.Get(c.Request().Context(), itemID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "item not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, av)
}
