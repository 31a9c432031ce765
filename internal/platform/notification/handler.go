package notification

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/pkg/pagination"
)

// Handler exposes delivery records to operators. Notifications are only
// created internally, so there is no send endpoint.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers all notification routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.GET("/notifications", h.HandleList)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

// HandleGet handles GET /notifications/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

// HandleList handles GET /notifications?address=...
func (h *Handler) HandleList(c echo.Context) error {
	address := c.QueryParam("address")
	if address == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "address query parameter is required")
	}
	pg := pagination.FromContext(c)
	list := h.manager.ListByAddress(c.Request().Context(), address, pagination.MaxLimit)
	return c.JSON(http.StatusOK, pagination.Page(list, pg))
}

// HandleRetry handles POST /notifications/:id/retry.
func (h *Handler) HandleRetry(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := h.manager.Retry(ctx, id); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "notification not found")
		case errors.Is(err, ErrNotRetryable):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
	}
	n, _ := h.manager.Get(ctx, id)
	return c.JSON(http.StatusAccepted, n)
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats(c.Request().Context()))
}
