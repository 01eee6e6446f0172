package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/vtplus-gateway/internal/auth"
	"github.com/vnmchuo/vtplus-gateway/internal/billing"
	"github.com/vnmchuo/vtplus-gateway/internal/errmsg"
	"github.com/vnmchuo/vtplus-gateway/internal/ledger"
	"github.com/vnmchuo/vtplus-gateway/internal/provider"
	"github.com/vnmchuo/vtplus-gateway/internal/quota"
	"github.com/vnmchuo/vtplus-gateway/internal/vtplus"
	"github.com/vnmchuo/vtplus-gateway/pkg/ratelimit"
)

// ProviderKeyHeader carries a caller-supplied provider key. Calls made with
// it are never metered.
const ProviderKeyHeader = "X-Provider-Api-Key"

// UsageReader is the read side of the quota ledger.
type UsageReader interface {
	Usage(ctx context.Context, userID string, feature vtplus.Feature) (*ledger.Usage, error)
	AllUsage(ctx context.Context, userID string) (map[vtplus.Feature]*ledger.Usage, error)
}

type Handler struct {
	router  *Router
	usage   UsageReader
	quota   *quota.Wrapper
	limiter *ratelimit.Limiter
	billing billing.Store
	tracer  trace.Tracer
}

func NewHandler(router *Router, usage UsageReader, wrapper *quota.Wrapper, limiter *ratelimit.Limiter, usageLog billing.Store, tracer trace.Tracer) *Handler {
	return &Handler{
		router:  router,
		usage:   usage,
		quota:   wrapper,
		limiter: limiter,
		billing: usageLog,
		tracer:  tracer,
	}
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Feature     string             `json:"feature,omitempty"`
	Provider    string             `json:"provider,omitempty"`
}

type quotaInfo struct {
	Feature vtplus.Feature `json:"feature"`
	Limit   int            `json:"limit"`
	Used    int            `json:"used"`
	Window  vtplus.Window  `json:"window"`
}

type errorBody struct {
	Error    errmsg.ErrorMessage `json:"error"`
	Category errmsg.Kind         `json:"category"`
	Quota    *quotaInfo          `json:"quota,omitempty"`
}

// call is a validated chat request ready to be routed.
type call struct {
	requestID string
	req       *provider.Request
	provider  provider.Provider
	opts      quota.Options
	ectx      errmsg.ErrorContext
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "proxy.complete")
	defer span.End()

	c, ok := h.prepare(ctx, w, r, span)
	if !ok {
		return
	}

	response, err := quota.Do(ctx, h.quota, c.opts, func(ctx context.Context) (*provider.Response, error) {
		return h.router.Execute(ctx, c.req, c.provider)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		h.fail(w, err, c.ectx)
		return
	}

	h.logUsage(c, &billing.UsageLog{
		Provider:     response.Provider,
		Model:        response.Model,
		InputTokens:  response.InputTokens,
		OutputTokens: response.OutputTokens,
		CostUSD:      billing.Cost(c.provider, response, c.req.APIKey != ""),
		LatencyMs:    response.LatencyMs,
	})

	respID := response.ID
	if respID == "" {
		respID = uuid.New().String()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       respID,
		"object":   "chat.completion",
		"model":    response.Model,
		"provider": response.Provider,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": response.Content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     response.InputTokens,
			"completion_tokens": response.OutputTokens,
			"total_tokens":      response.InputTokens + response.OutputTokens,
		},
	})
}

func (h *Handler) HandleCompleteStream(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "proxy.complete_stream")
	defer span.End()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	c, ok := h.prepare(ctx, w, r, span)
	if !ok {
		return
	}
	c.req.Stream = true

	ch, err := quota.Do(ctx, h.quota, c.opts, func(ctx context.Context) (<-chan *provider.Chunk, error) {
		return h.router.ExecuteStream(ctx, c.req, c.provider)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed to start")
		h.fail(w, err, c.ectx)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range ch {
		if chunk.Err != nil {
			status := errmsg.ClassifyStream(chunk.Err, ctx.Err() != nil)
			span.RecordError(chunk.Err)
			log.WithFields(log.Fields{
				"request_id": c.requestID,
				"provider":   c.ectx.Provider,
				"status":     status,
			}).WithError(chunk.Err).Warn("stream failed")

			writeEvent(w, "error", map[string]interface{}{
				"status":     status,
				"error":      errmsg.Generate(chunk.Err, c.ectx),
				"diagnostic": errmsg.Diagnose(chunk.Err),
			})
			flusher.Flush()
			return
		}

		if chunk.Delta != "" {
			writeEvent(w, "", map[string]interface{}{
				"id": c.requestID,
				"choices": []interface{}{
					map[string]interface{}{
						"index": 0,
						"delta": map[string]string{"content": chunk.Delta},
					},
				},
			})
			flusher.Flush()
		}

		if chunk.Done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			h.logUsage(c, &billing.UsageLog{
				Provider: c.provider.Name(),
				Model:    c.req.Model,
			})
			return
		}
	}
}

// logUsage fills in the caller fields of entry and writes it in the
// background.
func (h *Handler) logUsage(c *call, entry *billing.UsageLog) {
	entry.UserID = c.req.UserID
	entry.RequestID = c.requestID
	entry.Feature = c.opts.Feature
	entry.Byok = c.req.APIKey != ""

	go func() {
		if err := h.billing.LogUsage(context.Background(), entry); err != nil {
			log.WithError(err).WithField("request_id", entry.RequestID).Warn("failed to log request usage")
		}
	}()
}

// prepare validates the request, applies the rate limit and picks a
// provider. On failure the response has been written and ok is false.
func (h *Handler) prepare(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span) (*call, bool) {
	user := auth.GetUser(ctx)
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return nil, false
	}

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return nil, false
	}

	var pin provider.ID
	if body.Provider != "" {
		id, err := provider.ParseID(body.Provider)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return nil, false
		}
		pin = id
	}

	byokKey := r.Header.Get(ProviderKeyHeader)
	req := &provider.Request{
		Model:       body.Model,
		Messages:    body.Messages,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
		APIKey:      byokKey,
		UserID:      user.ID,
		RequestID:   requestID,
	}

	ectx := errmsg.ErrorContext{
		Provider:  pin,
		Model:     body.Model,
		UserID:    user.ID,
		HasAPIKey: byokKey != "",
		IsVtPlus:  user.IsVtPlus(),
	}

	// Without a feature the call is never metered.
	var opts quota.Options
	if body.Feature != "" {
		feature, err := vtplus.ParseFeature(body.Feature)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return nil, false
		}
		opts = quota.Options{User: user, Feature: feature, IsByokKey: byokKey != ""}
		span.SetAttributes(attribute.String("feature", string(feature)))
	}

	span.SetAttributes(
		attribute.String("user_id", user.ID),
		attribute.String("request_id", requestID),
		attribute.String("model", body.Model),
		attribute.Bool("byok", byokKey != ""),
	)

	allowed, err := h.limiter.Allow(ctx, user.ID, body.Model)
	if err != nil || !allowed {
		if err != nil {
			log.WithError(err).WithField("user_id", user.ID).Warn("rate limiter unavailable")
		}
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:    errmsg.RateLimit(ectx),
			Category: errmsg.KindRateLimit,
		})
		return nil, false
	}

	selected, err := h.router.Route(ctx, req, pin)
	var mke *MissingKeyError
	if errors.As(err, &mke) {
		ectx.Provider = mke.Provider
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:    errmsg.MissingAPIKey(ectx),
			Category: errmsg.KindMissingAPIKey,
		})
		return nil, false
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:    errmsg.ServiceUnavailable(ectx),
			Category: errmsg.KindServiceUnavailable,
		})
		return nil, false
	}
	ectx.Provider = provider.ID(selected.Name())
	span.SetAttributes(attribute.String("provider", selected.Name()))

	return &call{
		requestID: requestID,
		req:       req,
		provider:  selected,
		opts:      opts,
		ectx:      ectx,
	}, true
}

// fail renders err as an errorBody with the matching status code.
func (h *Handler) fail(w http.ResponseWriter, err error, ectx errmsg.ErrorContext) {
	body := errorBody{
		Error:    errmsg.Generate(err, ectx),
		Category: errmsg.Classify(err.Error()),
	}
	status := http.StatusBadGateway

	var qe *ledger.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		status = http.StatusTooManyRequests
		body.Category = errmsg.KindQuotaExceeded
		body.Quota = &quotaInfo{Feature: qe.Feature, Limit: qe.Limit, Used: qe.Used, Window: qe.Window}
	case errors.Is(err, ledger.ErrInvalidArgument):
		status = http.StatusBadRequest
		body.Category = errmsg.KindUnknown
	case errors.Is(err, ledger.ErrOperationFailed):
		status = http.StatusServiceUnavailable
		body.Category = errmsg.KindUnknown
		log.WithError(err).WithField("user_id", ectx.UserID).Error("quota ledger unavailable")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = http.StatusServiceUnavailable
		body.Error = errmsg.ServiceUnavailable(ectx)
		body.Category = errmsg.KindServiceUnavailable
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("failed to encode stream event")
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
