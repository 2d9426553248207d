package plans

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultLookupTimeout bounds a single identity-service request.
const DefaultLookupTimeout = 5 * time.Second

// ServiceConfig points the resolver at a Supabase-style REST endpoint.
type ServiceConfig struct {
	// BaseURL is the project URL, e.g. "https://xyz.supabase.co".
	BaseURL string
	// ServiceKey is sent both as the apikey header and as a bearer token.
	ServiceKey string
	// Timeout defaults to DefaultLookupTimeout.
	Timeout time.Duration
}

// Configured reports whether both URL and key are present.
func (c ServiceConfig) Configured() bool {
	return c.BaseURL != "" && c.ServiceKey != ""
}

// ServiceResolver reads the plan name from the identity service's profiles
// table: GET /rest/v1/profiles?select=plan&id=eq.<owner>.
type ServiceResolver struct {
	client *resty.Client
	table  Table
}

// NewResolver returns a ServiceResolver when cfg is configured and a
// StaticResolver otherwise.
func NewResolver(cfg ServiceConfig, table Table) Resolver {
	if !cfg.Configured() {
		slog.Info("plans: identity service not configured; every owner gets the default plan",
			"default", table.Default)
		return StaticResolver{Table: table}
	}
	return NewServiceResolver(cfg, table)
}

// NewServiceResolver builds a resolver against cfg without checking it.
func NewServiceResolver(cfg ServiceConfig, table Table) *ServiceResolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("apikey", cfg.ServiceKey).
		SetAuthToken(cfg.ServiceKey).
		SetHeader("Accept", "application/json")
	return &ServiceResolver{client: client, table: table}
}

type profileRow struct {
	Plan *string `json:"plan"`
}

// Resolve implements Resolver. Failures are logged and absorbed.
func (r *ServiceResolver) Resolve(ctx context.Context, ownerID string) Limits {
	name, ok := r.lookup(ctx, ownerID)
	if !ok {
		return r.table.Fallback()
	}
	return r.table.Lookup(name)
}

func (r *ServiceResolver) lookup(ctx context.Context, ownerID string) (string, bool) {
	if ownerID == "" {
		return "", false
	}
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("select", "plan").
		SetQueryParam("id", "eq."+ownerID).
		Get("/rest/v1/profiles")
	if err != nil {
		slog.Warn("plans: identity lookup failed; using default plan", "owner", ownerID, "err", err)
		return "", false
	}
	if !resp.IsSuccess() {
		slog.Warn("plans: identity lookup returned non-success; using default plan",
			"owner", ownerID, "status", resp.StatusCode())
		return "", false
	}

	var rows []profileRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		slog.Warn("plans: undecodable identity response; using default plan", "owner", ownerID, "err", err)
		return "", false
	}
	if len(rows) == 0 || rows[0].Plan == nil || *rows[0].Plan == "" {
		return "", false
	}
	return *rows[0].Plan, true
}
