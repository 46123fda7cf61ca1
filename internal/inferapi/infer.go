package inferapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/tandem/internal/gateway"
	"github.com/linnemanlabs/tandem/internal/router"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

func (a *API) handleInfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req gateway.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, `{"error":"payload too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("tandem.tenant.id", req.TenantID),
		attribute.String("tandem.skill", req.Skill),
	)

	resp, err := a.svc.Infer(ctx, &req)
	if err != nil {
		var bce *router.BackendCallError
		switch {
		case errors.Is(err, gateway.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, router.ErrEmptyCandidateSet):
			http.Error(w, `{"error":"no policy available"}`, http.StatusNotFound)
		case errors.As(err, &bce):
			http.Error(w, `{"error":"upstream failure"}`, http.StatusBadGateway)
		default:
			a.logger.Error(ctx, err, "inference failed", "tenant_id", req.TenantID, "skill", req.Skill)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	span.SetAttributes(
		attribute.String("tandem.interaction.id", resp.InteractionID),
		attribute.String("tandem.policy.id", resp.Version.PolicyID),
		attribute.String("tandem.router.reason", resp.Version.RouterReason),
	)

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := chi.URLParam(r, "tenant")
	skill := r.URL.Query().Get("skill")

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("tandem.tenant.id", tenant))

	ps, err := a.svc.ListPolicies(ctx, tenant, skill)
	if err != nil {
		a.logger.Error(ctx, err, "failed to list policies", "tenant_id", tenant, "skill", skill)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant,
		"skill":     skill,
		"policies":  ps,
	})
}

// parseLimit reads ?limit=, defaulting to 50 and clamping to 1..200.
func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultLogLimit
	}
	return min(max(n, 1), maxLogLimit)
}

func (a *API) handleShadowLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"))

	entries, err := a.svc.ShadowLog(ctx, limit)
	if err != nil {
		a.logger.Error(ctx, err, "failed to read shadow log", "limit", limit)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
