package labbilling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	g := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleFrontdesk))
	g.POST("/test-requests", h.CreateTestRequest)
	g.GET("/test-requests", h.ListTestRequests)
	g.GET("/test-requests/:id", h.GetTestRequest)
	g.GET("/test-requests/:id/bill", h.GetBill)
	g.POST("/test-requests/:id/bill", h.GenerateBill)
	g.POST("/test-requests/:id/payments", h.RecordPayment)

	// Cancel and refund are restricted to billing staff.
	bg := api.Group("", auth.RequireRole(auth.RoleBilling))
	bg.POST("/test-requests/:id/cancel", h.CancelBill)
	bg.POST("/test-requests/:id/refund", h.RefundBill)
}

type createRequestDTO struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	TestType  string `json:"test_type" validate:"required"`
}

type paymentDTO struct {
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Method         string          `json:"method" validate:"required"`
	TransactionRef string          `json:"transaction_ref"`
}

type cancelDTO struct {
	Reason string `json:"reason" validate:"required"`
}

type refundDTO struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
	Method string          `json:"method" validate:"required"`
	Reason string          `json:"reason" validate:"required"`
}

func (h *Handler) CreateTestRequest(c echo.Context) error {
	var dto createRequestDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pid, _ := uuid.Parse(dto.PatientID)
	req := &TestRequest{PatientID: pid, TestType: dto.TestType}
	if err := h.svc.CreateTestRequest(c.Request().Context(), req); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetTestRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.GetTestRequest(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListTestRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTestRequests(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bill, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) GenerateBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in GenerateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.GenerateBill(c.Request().Context(), id, in, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var dto paymentDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.RecordPayment(c.Request().Context(), id, dto.Amount, dto.Method, dto.TransactionRef, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) CancelBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var dto cancelDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.CancelBill(c.Request().Context(), id, dto.Reason, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) RefundBill(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var dto refundDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.RefundBill(c.Request().Context(), id, dto.Amount, dto.Method, dto.Reason, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

// httpError maps domain errors onto HTTP status codes, preserving the
// state/amount context the service attaches.
func httpError(err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	}
	var sc *StateConflictError
	if errors.As(err, &sc) {
		return echo.NewHTTPError(http.StatusConflict, sc.Error())
	}
	var ae *AmountError
	if errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ae.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
