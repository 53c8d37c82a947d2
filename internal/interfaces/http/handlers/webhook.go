package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/turtacn/loan-portal/internal/application/dealsync"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// LeadSyncer refreshes individual leads from the CRM.
type LeadSyncer interface {
	SyncLeads(ctx context.Context, changed, removed []int64) (*dealsync.Result, error)
}

// AmoCRMWebhook handles POST /api/v1/webhooks/amocrm.  amoCRM posts lead
// events form-encoded as leads[<event>][<n>][id]; changed leads are fetched
// again and deleted ones leave the mirror.  A 5xx reply makes amoCRM retry.
func (h *DealHandler) AmoCRMWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookToken != "" {
		got := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
			writeAppError(w, errors.Unauthorized("invalid webhook token"))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeAppError(w, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid webhook body"))
		return
	}
	changed, removed, err := parseLeadEvents(r.PostForm)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if len(changed) == 0 && len(removed) == 0 {
		writeJSON(w, http.StatusOK, &dealsync.Result{Scope: dealsync.ScopeLeads})
		return
	}

	res, err := h.leads.SyncLeads(r.Context(), changed, removed)
	if err != nil {
		h.logger.Error("Lead webhook sync failed",
			logging.Int("changed", len(changed)),
			logging.Int("removed", len(removed)),
			logging.Err(err))
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseLeadEvents collects lead ids from keys like leads[status][0][id].
// status, update, add and restore events count as changes.  Ids are sorted
// and unique; a lead both changed and deleted is treated as deleted.
func parseLeadEvents(form map[string][]string) (changed, removed []int64, err error) {
	gone := make(map[int64]bool)
	touched := make(map[int64]bool)
	for key, vals := range form {
		if !strings.HasPrefix(key, "leads[") || len(vals) == 0 {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(key, "leads["), "]"), "][")
		if len(parts) != 3 || parts[2] != "id" {
			continue
		}
		id, perr := strconv.ParseInt(strings.TrimSpace(vals[0]), 10, 64)
		if perr != nil || id <= 0 {
			return nil, nil, errors.InvalidParam("lead id must be a positive integer").WithDetail(key + "=" + vals[0])
		}
		switch parts[0] {
		case "delete":
			gone[id] = true
		case "status", "update", "add", "restore":
			touched[id] = true
		}
	}
	for id := range touched {
		if !gone[id] {
			changed = append(changed, id)
		}
	}
	for id := range gone {
		removed = append(removed, id)
	}
	slices.Sort(changed)
	slices.Sort(removed)
	return changed, removed, nil
}
