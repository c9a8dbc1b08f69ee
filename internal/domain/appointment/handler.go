package appointment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/platform/auth"
	"github.com/redecare/redecare/internal/platform/db"
	"github.com/redecare/redecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments", auth.RequireRole("operator"))
	g.POST("", h.Schedule)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/missed", h.MarkAsMissed)
	g.POST("/:id/attended", h.MarkAsAttended)
	g.POST("/:id/missed-attendance", h.MarkAsMissedAttendance)
	g.POST("/:id/reschedule", h.Reschedule)

	r := api.Group("/reschedulings", auth.RequireRole("operator"))
	r.GET("", h.ListReschedulings)
	r.GET("/:id", h.GetRescheduling)
	r.POST("/:id/approve", h.ApproveRescheduling)
	r.POST("/:id/reject", h.RejectRescheduling)
	r.POST("/:id/complete", h.CompleteRescheduling)
	r.POST("/:id/whatsapp-sent", h.MarkWhatsAppSent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvariant):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type scheduleRequest struct {
	SolicitationID uuid.UUID   `json:"solicitation_id"`
	Provider       ProviderRef `json:"provider"`
	ScheduledAt    time.Time   `json:"scheduled_at"`
	TUSSCode       string      `json:"tuss_code"`
	Amount         float64     `json:"amount"`
}

func (h *Handler) Schedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := &Appointment{
		SolicitationID: req.SolicitationID,
		Provider:       req.Provider,
		ScheduledAt:    req.ScheduledAt,
		TUSSCode:       req.TUSSCode,
		Amount:         req.Amount,
	}
	if err := h.svc.Schedule(c.Request().Context(), a); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type actionRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Confirm(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Complete(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) MarkAsMissed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.MarkAsMissed(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) MarkAsAttended(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.MarkAsAttended(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) MarkAsMissedAttendance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.MarkAsMissedAttendance(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	NewDate           time.Time    `json:"new_date"`
	Reason            string       `json:"reason"`
	ReasonDescription string       `json:"reason_description"`
	NewProvider       *ProviderRef `json:"new_provider,omitempty"`
	Notes             string       `json:"notes"`
	NewAmount         *float64     `json:"new_amount,omitempty"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resched, replacement, err := h.svc.Reschedule(c.Request().Context(), id, RescheduleInput{
		NewDate:           req.NewDate,
		RequestedBy:       auth.ActorFromContext(c.Request().Context()),
		Reason:            req.Reason,
		ReasonDescription: req.ReasonDescription,
		NewProvider:       req.NewProvider,
		Notes:             req.Notes,
		NewAmount:         req.NewAmount,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTransition) ||
			errors.Is(err, db.ErrVersionConflict) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"rescheduling":    resched,
		"new_appointment": replacement,
	})
}

func (h *Handler) GetRescheduling(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetRescheduling(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListReschedulings(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListReschedulings(c.Request().Context(), c.QueryParam("approval_status"), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) ApproveRescheduling(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.ApproveRescheduling(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) RejectRescheduling(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.RejectRescheduling(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CompleteRescheduling(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.CompleteRescheduling(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) MarkWhatsAppSent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.MarkWhatsAppSent(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}
