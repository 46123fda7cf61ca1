// Package policy defines routing policies and the read-only catalog that
// serves them to the router.
package policy

import (
	"context"
	"strings"
)

// Status is the catalog role of a policy.
type Status string

const (
	// StatusActive marks a policy that may serve live traffic.
	StatusActive Status = "active"

	// StatusShadow marks a policy that only receives mirrored traffic.
	StatusShadow Status = "shadow"
)

// DefaultStatuses is the status set a catalog serves when none is configured.
var DefaultStatuses = []Status{StatusActive, StatusShadow}

// Policy is an immutable snapshot of one catalog entry.
type Policy struct {
	ID            string `json:"policy_id" yaml:"policy_id"`
	Status        Status `json:"status" yaml:"status"`
	BaseModel     string `json:"base_model" yaml:"base_model"`
	PromptVersion string `json:"prompt_version,omitempty" yaml:"prompt_version,omitempty"`
	AdapterRef    string `json:"adapter_ref,omitempty" yaml:"adapter_ref,omitempty"`
}

// Catalog lists candidate policies for a tenant and skill. Implementations
// must return results in catalog order and apply the skill fallback rule
// described on Filter.
type Catalog interface {
	ListPolicies(ctx context.Context, tenantID, skill string) ([]Policy, error)
}

// ParseStatuses turns a comma separated list into statuses, dropping blanks.
// An empty result yields DefaultStatuses.
func ParseStatuses(s string) []Status {
	var out []Status
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Status(part))
	}
	if len(out) == 0 {
		return append([]Status(nil), DefaultStatuses...)
	}
	return out
}

// Filter keeps policies whose status is allowed and, when skill is set,
// whose ID starts with skill. If the skill filter leaves nothing, the
// tenant-wide status-filtered list is returned instead. Order is preserved
// and the input slice is never modified.
func Filter(all []Policy, skill string, allowed []Status) []Policy {
	if len(allowed) == 0 {
		allowed = DefaultStatuses
	}

	var tenantWide, bySkill []Policy
	for _, p := range all {
		if !statusAllowed(p.Status, allowed) {
			continue
		}
		tenantWide = append(tenantWide, p)
		if skill != "" && strings.HasPrefix(p.ID, skill) {
			bySkill = append(bySkill, p)
		}
	}

	if skill == "" || len(bySkill) == 0 {
		return tenantWide
	}
	return bySkill
}

func statusAllowed(s Status, allowed []Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// StatusStrings converts statuses for use as SQL array parameters.
func StatusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
