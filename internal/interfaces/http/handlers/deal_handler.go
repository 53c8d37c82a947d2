package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/turtacn/loan-portal/internal/application/dashboard"
	"github.com/turtacn/loan-portal/internal/domain/deal"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// DealHandler serves per-deal endpoints, the stateless calculators and the
// CRM lead webhook.
type DealHandler struct {
	dashboard    dashboard.Service
	engine       *deal.Engine
	leads        LeadSyncer
	webhookToken string
	logger       logging.Logger
	now          func() time.Time
}

// DealOption configures a DealHandler.
type DealOption func(*DealHandler)

// WithLeadSync enables POST /webhooks/amocrm.  A non-empty token must be
// passed by the CRM as the token query parameter.
func WithLeadSync(s LeadSyncer, token string) DealOption {
	return func(h *DealHandler) {
		h.leads = s
		h.webhookToken = token
	}
}

// NewDealHandler creates a DealHandler.
func NewDealHandler(svc dashboard.Service, engine *deal.Engine, logger logging.Logger, opts ...DealOption) *DealHandler {
	h := &DealHandler{
		dashboard: svc,
		engine:    engine,
		logger:    logging.OrNop(logger).Named("deal_handler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PenaltyRequest is the body of POST /api/v1/calculator/penalty.
type PenaltyRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gte=0"`
	Paid      decimal.Decimal `json:"paid" validate:"gte=0"`
	CreatedAt string          `json:"created_at" validate:"required"`
	TermDays  int             `json:"term_days" validate:"gte=0,lte=3650"`
	// At defaults to the current time, which also stands in for an
	// unparseable value.
	At string `json:"at,omitempty"`
}

// PenaltyResponse is the repayment state of a hypothetical loan.
type PenaltyResponse struct {
	Due  deal.DueCountdown     `json:"due"`
	Debt deal.PenaltyStatement `json:"debt"`
}

// RegisterRoutes mounts the deal routes on r.
func (h *DealHandler) RegisterRoutes(r chi.Router) {
	r.Get("/deals/{dealID}/review", h.GetReview)
	r.Post("/calculator/penalty", h.CalculatePenalty)
	if h.leads != nil {
		r.Post("/webhooks/amocrm", h.AmoCRMWebhook)
	}
}

// GetReview handles GET /api/v1/deals/{dealID}/review.
func (h *DealHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "dealID")
	if err != nil {
		writeAppError(w, err)
		return
	}
	res, err := h.dashboard.Review(r.Context(), id, h.now())
	if err != nil {
		h.logger.Warn("Review lookup failed", logging.Int64("deal_id", id), logging.Err(err))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CalculatePenalty handles POST /api/v1/calculator/penalty.  Dates use the
// CRM format "DD.MM.YYYY HH:MM:SS" or "DD.MM.YYYY".
func (h *DealHandler) CalculatePenalty(w http.ResponseWriter, r *http.Request) {
	var req PenaltyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	loc := h.engine.Settings().Location
	created, err := deal.ParseCRMDate(req.CreatedAt, loc)
	if err != nil {
		writeAppError(w, err)
		return
	}
	at := h.now()
	if req.At != "" {
		at = h.engine.ParseDate(req.At, at)
	}
	term := req.TermDays
	if term == 0 {
		term = h.engine.Settings().DefaultTermDays
	}
	if term < 1 {
		writeAppError(w, errors.New(errors.ErrCodeTermInvalid, "term must be at least one day"))
		return
	}
	d := deal.Deal{Price: req.Amount, Paid: req.Paid, CreatedAt: created, TermDays: term, Phase: deal.PhaseApproved}
	writeJSON(w, http.StatusOK, PenaltyResponse{
		Due:  h.engine.Due(d, at),
		Debt: h.engine.Overdue(d, at),
	})
}
