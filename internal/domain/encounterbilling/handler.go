package encounterbilling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleFrontdesk))
	g.GET("/patients/:id/billing/items", h.ListItems)
	g.POST("/patients/:id/billing/items", h.AddItem)
	g.POST("/patients/:id/billing/payments", h.ApplyPayment)
	g.GET("/patients/:id/billing/profile", h.GetProfile)
	g.POST("/patients/:id/billing/invoice", h.CreateInvoice)
	g.POST("/patients/:id/reassignment", h.Reassign)
	g.POST("/patients/:id/reassignment/invoice", h.CreateReassignmentInvoice)

	bg := api.Group("", auth.RequireRole(auth.RoleBilling))
	bg.POST("/patients/:id/billing/refunds", h.ApplyRefund)
	bg.POST("/patients/:id/billing/cancel", h.CancelEncounter)
}

type paymentDTO struct {
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Method         string          `json:"method" validate:"required"`
	Bucket         Bucket          `json:"bucket"`
	TransactionRef string          `json:"transaction_ref"`
}

type refundDTO struct {
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	Method     string          `json:"method" validate:"required"`
	Reason     string          `json:"reason" validate:"required"`
	Behavior   PatientBehavior `json:"patient_behavior" validate:"required,oneof=okay rude"`
	RefundType RefundType      `json:"refund_type" validate:"required,oneof=full partial"`
	Bucket     Bucket          `json:"bucket"`
}

type cancelDTO struct {
	Reason     string          `json:"reason" validate:"required"`
	Penalty    decimal.Decimal `json:"penalty"`
	RefundType RefundType      `json:"refund_type" validate:"required,oneof=full partial"`
	Behavior   PatientBehavior `json:"patient_behavior" validate:"required,oneof=okay rude"`
	Bucket     Bucket          `json:"bucket"`
}

type reassignDTO struct {
	DoctorID         string           `json:"doctor_id" validate:"required,uuid"`
	ConsultationType ConsultationType `json:"consultation_type" validate:"required,oneof=OP IP"`
}

func patientID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func bucketOrPrimary(b Bucket) Bucket {
	if b == "" {
		return BucketPrimary
	}
	return b
}

func (h *Handler) ListItems(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	bucket := bucketOrPrimary(Bucket(c.QueryParam("bucket")))
	if bucket != BucketPrimary && bucket != BucketReassignment {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bucket")
	}
	items, err := h.svc.ListItems(c.Request().Context(), pid, bucket)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddItem(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var in AddItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	li, err := h.svc.AddLineItem(c.Request().Context(), pid, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, li)
}

func (h *Handler) ApplyPayment(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var dto paymentDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	applied, err := h.svc.ApplyPayment(c.Request().Context(), pid, bucketOrPrimary(dto.Bucket),
		dto.Amount, dto.Method, dto.TransactionRef, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"applied":  applied,
		"leftover": dto.Amount.Sub(applied),
	})
}

func (h *Handler) ApplyRefund(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var dto refundDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	apps, err := h.svc.ApplyRefund(c.Request().Context(), pid, bucketOrPrimary(dto.Bucket),
		dto.Amount, dto.Method, dto.Reason, dto.Behavior, dto.RefundType, actor(c))
	if err != nil {
		return httpError(err)
	}

	type refundResult struct {
		LineItemID uuid.UUID       `json:"line_item_id"`
		Amount     decimal.Decimal `json:"amount"`
		Status     ItemStatus      `json:"status"`
	}
	out := make([]refundResult, 0, len(apps))
	for _, a := range apps {
		out = append(out, refundResult{LineItemID: a.Item.ID, Amount: a.Amount, Status: a.Item.Status})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CancelEncounter(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var dto cancelDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	touched, err := h.svc.CancelEncounter(c.Request().Context(), pid, bucketOrPrimary(dto.Bucket),
		dto.Reason, dto.Penalty, dto.RefundType, dto.Behavior, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, touched)
}

func (h *Handler) Reassign(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var dto reassignDTO
	if err := c.Bind(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&dto); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	did, _ := uuid.Parse(dto.DoctorID)
	li, err := h.svc.Reassign(c.Request().Context(), pid, did, dto.ConsultationType, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, li)
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	snap, err := h.svc.CreateInvoice(c.Request().Context(), pid, BucketPrimary)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) CreateReassignmentInvoice(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	snap, err := h.svc.CreateInvoice(c.Request().Context(), pid, BucketReassignment)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

func (h *Handler) GetProfile(c echo.Context) error {
	pid, err := patientID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	p, err := h.svc.GetProfile(c.Request().Context(), pid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func httpError(err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return echo.NewHTTPError(http.StatusNotFound, nf.Error())
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	}
	var ae *AmountError
	if errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ae.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
