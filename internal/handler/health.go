package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is the liveness endpoint used by load balancers and
// monitoring to verify that the engine is up.  It deliberately checks
// nothing downstream: the purchase path degrades per collaborator
// (cache, broker, provider) and reports those failures on its own
// responses.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "ok",
		"service": "ovostock",
	})
}
