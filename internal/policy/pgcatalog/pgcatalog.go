// Package pgcatalog provides a PostgreSQL implementation of policy.Catalog.
package pgcatalog

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/tandem/internal/policy"
	"github.com/linnemanlabs/tandem/internal/postgres"
)

const tracerName = "github.com/linnemanlabs/tandem/internal/policy/pgcatalog"

//go:embed schema.sql
var schema string

const policyColumns = `policy_id, status, base_model, prompt_version, adapter_ref`

const tenantFilter = `SELECT ` + policyColumns + ` FROM policies
	WHERE tenant_id = (SELECT id FROM tenants WHERE tenant_slug = $1)
	AND status = ANY($2)`

// Rows come back in insertion order; the router picks by position.
const (
	listByTenant = tenantFilter + ` ORDER BY id`
	listBySkill  = tenantFilter + ` AND policy_id LIKE $3 ESCAPE '\' ORDER BY id`
)

// Catalog reads policies from PostgreSQL on every call.
type Catalog struct {
	pool     *pgxpool.Pool
	statuses []string
}

// New connects to PostgreSQL, applies the schema, and returns a ready Catalog.
func New(ctx context.Context, databaseURL string, statuses []policy.Status) (*Catalog, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return NewWithPool(pool, statuses), nil
}

// NewWithPool wraps an existing pool. The caller owns the schema.
func NewWithPool(pool *pgxpool.Pool, statuses []policy.Status) *Catalog {
	if len(statuses) == 0 {
		statuses = policy.DefaultStatuses
	}
	return &Catalog{pool: pool, statuses: policy.StatusStrings(statuses)}
}

// Close shuts down the connection pool.
func (c *Catalog) Close() {
	c.pool.Close()
}

// ListPolicies implements policy.Catalog. A skill with no matching policies
// falls back to the tenant-wide list.
func (c *Catalog) ListPolicies(ctx context.Context, tenantID, skill string) ([]policy.Policy, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pgcatalog.ListPolicies", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("tandem.tenant.id", tenantID),
		attribute.String("tandem.skill", skill),
	))
	defer span.End()

	var (
		out []policy.Policy
		err error
	)
	if skill != "" {
		out, err = c.query(ctx, listBySkill, tenantID, c.statuses, prefixPattern(skill))
		if err == nil && len(out) == 0 {
			span.SetAttributes(attribute.Bool("tandem.catalog.fallback", true))
			out, err = c.query(ctx, listByTenant, tenantID, c.statuses)
		}
	} else {
		out, err = c.query(ctx, listByTenant, tenantID, c.statuses)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("tandem.catalog.policies", len(out)))
	return out, nil
}

func (c *Catalog) query(ctx context.Context, sql string, args ...any) ([]policy.Policy, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	out, err := pgx.CollectRows(rows, scanPolicy)
	if err != nil {
		return nil, fmt.Errorf("scan policies: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// prefixPattern builds a LIKE pattern matching values that start with s literally.
func prefixPattern(s string) string {
	return likeEscaper.Replace(s) + "%"
}

func scanPolicy(row pgx.CollectableRow) (policy.Policy, error) {
	var (
		p             policy.Policy
		status        string
		promptVersion *string
		adapterRef    *string
	)
	if err := row.Scan(&p.ID, &status, &p.BaseModel, &promptVersion, &adapterRef); err != nil {
		return policy.Policy{}, err
	}
	p.Status = policy.Status(status)
	if promptVersion != nil {
		p.PromptVersion = *promptVersion
	}
	if adapterRef != nil {
		p.AdapterRef = *adapterRef
	}
	return p, nil
}
