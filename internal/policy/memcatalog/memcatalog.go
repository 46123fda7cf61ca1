// Package memcatalog provides an in-memory implementation of policy.Catalog.
package memcatalog

import (
	"context"
	"sync"

	"github.com/linnemanlabs/tandem/internal/policy"
)

// Catalog holds policies in memory, keyed by tenant. The file catalog keeps
// its current snapshot in one.
type Catalog struct {
	mu       sync.RWMutex
	tenants  map[string][]policy.Policy // tenant ID -> policies in catalog order
	statuses []policy.Status
}

// New initializes an empty Catalog serving the given statuses
// (policy.DefaultStatuses when none are passed).
func New(statuses ...policy.Status) *Catalog {
	if len(statuses) == 0 {
		statuses = policy.DefaultStatuses
	}
	return &Catalog{
		tenants:  make(map[string][]policy.Policy),
		statuses: statuses,
	}
}

// Set replaces the policy list for a tenant. The slice is copied.
func (c *Catalog) Set(tenantID string, policies ...policy.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants[tenantID] = append([]policy.Policy(nil), policies...)
}

// Replace swaps the whole tenant map in one step, so readers see either the
// old set or the new one. Slices are copied.
func (c *Catalog) Replace(tenants map[string][]policy.Policy) {
	next := make(map[string][]policy.Policy, len(tenants))
	for id, ps := range tenants {
		next[id] = append([]policy.Policy(nil), ps...)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants = next
}

// ListPolicies returns a copy of the tenant's policies after the status and
// skill filters are applied.
func (c *Catalog) ListPolicies(_ context.Context, tenantID, skill string) ([]policy.Policy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return policy.Filter(c.tenants[tenantID], skill, c.statuses), nil
}
