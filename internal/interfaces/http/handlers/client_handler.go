package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/loan-portal/internal/application/dashboard"
	"github.com/turtacn/loan-portal/internal/application/dealsync"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
)

// ClientHandler serves everything addressed by a client's phone number.
type ClientHandler struct {
	dashboard dashboard.Service
	sync      dealsync.Service
	logger    logging.Logger
	now       func() time.Time
}

// NewClientHandler creates a ClientHandler.  syncSvc may be nil, which
// disables the on-demand refresh endpoint.
func NewClientHandler(svc dashboard.Service, syncSvc dealsync.Service, logger logging.Logger) *ClientHandler {
	return &ClientHandler{
		dashboard: svc,
		sync:      syncSvc,
		logger:    logging.OrNop(logger).Named("client_handler"),
		now:       time.Now,
	}
}

// MarkReadRequest is the body of POST .../notifications/read.
type MarkReadRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=100,dive,required,max=64"`
}

// MarkReadResponse reports how many notifications changed state.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// NotificationsResponse wraps the notification feed.
type NotificationsResponse struct {
	Notifications interface{} `json:"notifications"`
	Unread        int         `json:"unread"`
}

// RegisterRoutes mounts the client routes on r.
func (h *ClientHandler) RegisterRoutes(r chi.Router) {
	r.Route("/clients/{phone}", func(cr chi.Router) {
		cr.Get("/", h.GetClient)
		cr.Get("/dashboard", h.GetDashboard)
		cr.Get("/deals", h.ListDeals)
		cr.Get("/notifications", h.ListNotifications)
		cr.Post("/notifications/read", h.MarkRead)
		if h.sync != nil {
			cr.Post("/sync", h.Sync)
		}
	})
}

// GetClient handles GET /api/v1/clients/{phone}.
func (h *ClientHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.dashboard.Client(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		h.fail(w, "get client", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetDashboard handles GET /api/v1/clients/{phone}/dashboard.
func (h *ClientHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.dashboard.Dashboard(r.Context(), chi.URLParam(r, "phone"), h.now())
	if err != nil {
		h.fail(w, "get dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListDeals handles GET /api/v1/clients/{phone}/deals.
func (h *ClientHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	views, err := h.dashboard.Deals(r.Context(), chi.URLParam(r, "phone"), h.now())
	if err != nil {
		h.fail(w, "list deals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deals": views})
}

// ListNotifications handles GET /api/v1/clients/{phone}/notifications.
func (h *ClientHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := h.dashboard.Notifications(r.Context(), chi.URLParam(r, "phone"), h.now())
	if err != nil {
		h.fail(w, "list notifications", err)
		return
	}
	unread := 0
	for _, n := range ns {
		if !n.Read {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: ns, Unread: unread})
}

// MarkRead handles POST /api/v1/clients/{phone}/notifications/read.
func (h *ClientHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	n, err := h.dashboard.MarkRead(r.Context(), chi.URLParam(r, "phone"), req.IDs)
	if err != nil {
		h.fail(w, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{Updated: n})
}

// Sync handles POST /api/v1/clients/{phone}/sync: it refreshes the client
// from the CRM and returns the new dashboard.
func (h *ClientHandler) Sync(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if _, err := h.sync.SyncClient(r.Context(), phone); err != nil {
		h.fail(w, "sync client", err)
		return
	}
	if err := h.dashboard.Invalidate(r.Context(), phone); err != nil {
		h.logger.Warn("Failed to invalidate client cache", logging.Err(err))
	}
	h.GetDashboard(w, r)
}

func (h *ClientHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("Request failed", logging.String("op", op), logging.Err(err))
	writeAppError(w, err)
}
