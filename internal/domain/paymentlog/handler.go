package paymentlog

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleBilling))
	g.GET("/payment-logs", h.List)
	g.GET("/payment-logs/:transaction_id", h.Get)
	g.PUT("/payment-logs/:transaction_id/status", h.UpdateStatus)
}

type updateStatusDTO struct {
	Status Status `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	if subject := c.QueryParam("subject_id"); subject != "" {
		sid, err := uuid.Parse(subject)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid subject_id")
		}
		items, total, err := h.svc.ListBySubject(c.Request().Context(), sid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	e, err := h.svc.Get(c.Request().Context(), c.Param("transaction_id"))
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return echo.NewHTTPError(http.StatusNotFound, nf.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var dto updateStatusDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	e, err := h.svc.UpdateStatus(c.Request().Context(), c.Param("transaction_id"), dto.Status, dto.Reason)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return echo.NewHTTPError(http.StatusNotFound, nf.Error())
		}
		var te *TransitionError
		if errors.As(err, &te) {
			return echo.NewHTTPError(http.StatusConflict, te.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}
