package directory

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/institutions/:id", h.GetInstitution)
	api.GET("/institutions/:id/crisis-contacts", h.ListCrisisContacts)
	api.GET("/accounts/:id", h.GetAccount)
}

func (h *Handler) GetInstitution(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inst, err := h.svc.FindInstitution(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, "institution not found")
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) ListCrisisContacts(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if _, err := h.svc.FindInstitution(ctx, id); err != nil {
		return lookupError(err, "institution not found")
	}
	contacts, err := h.svc.FindActiveCrisisContacts(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list crisis contacts")
	}
	if contacts == nil {
		contacts = []*CrisisContact{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": contacts, "total": len(contacts)})
}

func (h *Handler) GetAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.FindAccount(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, "account not found")
	}
	return c.JSON(http.StatusOK, a)
}

func lookupError(err error, notFoundMsg string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, notFoundMsg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
}
