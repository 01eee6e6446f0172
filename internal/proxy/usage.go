package proxy

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vnmchuo/vtplus-gateway/internal/auth"
	"github.com/vnmchuo/vtplus-gateway/internal/errmsg"
	"github.com/vnmchuo/vtplus-gateway/internal/ledger"
	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
)

// HandleUsage reports every feature of the caller's current periods.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUser(ctx)
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	all, err := h.usage.AllUsage(ctx, user.ID)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("failed to read usage")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:    errmsg.Fallback(errmsg.ErrorContext{UserID: user.ID}),
			Category: errmsg.KindUnknown,
		})
		return
	}

	features := make([]*ledger.Usage, 0, len(all))
	for _, f := range vtplus.Features() {
		if u, ok := all[f]; ok {
			features = append(features, u)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.ID,
		"plan":       user.PlanSlug,
		"is_vt_plus": user.IsVtPlus(),
		"usage":      features,
	})
}

// HandleFeatureUsage reports one feature named by the {feature} URL param.
func (h *Handler) HandleFeatureUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUser(ctx)
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	feature, err := vtplus.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	u, err := h.usage.Usage(ctx, user.ID, feature)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": user.ID,
			"feature": feature,
		}).Error("failed to read usage")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:    errmsg.Fallback(errmsg.ErrorContext{UserID: user.ID}),
			Category: errmsg.KindUnknown,
		})
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// HandleRequestLog lists the caller's logged requests and their cost between
// the RFC3339 "from" and "to" query params, defaulting to the last 30 days.
func (h *Handler) HandleRequestLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.GetUser(ctx)
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
		to = t
	}

	logs, err := h.billing.GetUsageByUser(ctx, user.ID, from, to)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("failed to read request log")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read request log"})
		return
	}

	totalCost, err := h.billing.GetTotalCostByUser(ctx, user.ID, from, to)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("failed to read request cost")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read request log"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        user.ID,
		"total_requests": len(logs),
		"total_cost_usd": totalCost,
		"logs":           logs,
		"from":           from,
		"to":             to,
	})
}
