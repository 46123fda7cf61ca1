// Package inferapi exposes the gateway over HTTP.
package inferapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/tandem/internal/audit"
	"github.com/linnemanlabs/tandem/internal/gateway"
	"github.com/linnemanlabs/tandem/internal/policy"
)

const maxBodyBytes = 1 << 20

// InferenceService defines the business operations inferapi needs.
type InferenceService interface {
	Infer(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
	ListPolicies(ctx context.Context, tenantID, skill string) ([]policy.Policy, error)
	ShadowLog(ctx context.Context, limit int) ([]audit.Record, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    InferenceService
}

// New creates a new API handler.
func New(logger log.Logger, svc InferenceService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("inference service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/infer", a.handleInfer)
		r.Get("/policies/{tenant}", a.handleListPolicies)
		r.Get("/shadow/logs", a.handleShadowLogs)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing useful to do with a write error
	_ = json.NewEncoder(w).Encode(v)
}
