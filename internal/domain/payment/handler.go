package payment

import (
	"errors"
	"net/http"

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
	g := api.Group("/payments", auth.RequireRole("finance"))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/process", h.Process)
	g.POST("/:id/glosses", h.ApplyGloss)
	g.GET("/:id/glosses", h.ListGlosses)
	g.POST("/:id/refunds", h.Refund)
	g.GET("/:id/refunds", h.ListRefunds)

	gl := api.Group("/glosses", auth.RequireRole("finance"))
	gl.POST("/:id/revert", h.RevertGloss)
	gl.POST("/:id/appeal", h.MarkGlossAppealed)
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

type createRequest struct {
	Payable        PayableRef `json:"payable"`
	Amount         float64    `json:"amount"`
	DiscountAmount float64    `json:"discount_amount"`
	TotalAmount    *float64   `json:"total_amount,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Create(c.Request().Context(), CreateInput{
		Payable:        req.Payable,
		Amount:         req.Amount,
		DiscountAmount: req.DiscountAmount,
		TotalAmount:    req.TotalAmount,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("status"), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type processRequest struct {
	Method string `json:"method"`
}

func (h *Handler) Process(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Process(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Method)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type glossRequest struct {
	Amount       float64 `json:"amount"`
	Reason       string  `json:"reason"`
	Code         string  `json:"code"`
	IsAppealable bool    `json:"is_appealable"`
}

func (h *Handler) ApplyGloss(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req glossRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.ApplyGloss(c.Request().Context(), id, GlossInput{
		Amount:       req.Amount,
		Reason:       req.Reason,
		Code:         req.Code,
		IsAppealable: req.IsAppealable,
	}, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, db.ErrVersionConflict) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) ListGlosses(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	glosses, err := h.svc.ListGlosses(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, glosses)
}

type refundRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	re, err := h.svc.Refund(c.Request().Context(), id, RefundInput{
		Amount: req.Amount,
		Reason: req.Reason,
	}, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvariant) ||
			errors.Is(err, db.ErrVersionConflict) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, re)
}

func (h *Handler) ListRefunds(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	refunds, err := h.svc.ListRefunds(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, refunds)
}

type glossActionRequest struct {
	Notes         string `json:"notes"`
	Justification string `json:"justification"`
}

func (h *Handler) RevertGloss(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req glossActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.RevertGloss(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) MarkGlossAppealed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req glossActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.MarkGlossAppealed(c.Request().Context(), id, auth.ActorFromContext(c.Request().Context()), req.Justification)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}
