package router

import (
	"errors"

	"github.com/linnemanlabs/tandem/internal/policy"
)

// ErrEmptyCandidateSet is returned by Choose when the catalog had nothing
// for the tenant and skill.
var ErrEmptyCandidateSet = errors.New("no policy available")

// Reason records how a decision was reached.
type Reason string

const (
	ReasonActive        Reason = "active"
	ReasonShadowSampled Reason = "shadow_sampled"
)

// Decision is the routing outcome for one request. ShadowCandidates is empty
// unless Reason is ReasonShadowSampled.
type Decision struct {
	Selected         policy.Policy   `json:"selected"`
	ShadowCandidates []policy.Policy `json:"shadow_candidates"`
	Reason           Reason          `json:"reason"`
}

// ShadowIDs returns the policy IDs of the shadow candidates in order.
func (d Decision) ShadowIDs() []string {
	ids := make([]string, len(d.ShadowCandidates))
	for i, p := range d.ShadowCandidates {
		ids[i] = p.ID
	}
	return ids
}

// Router turns a candidate list into a Decision. It holds no per-request
// state and is safe for concurrent use when its RandSource is.
type Router struct {
	rate float64
	rng  RandSource
}

// New returns a Router that samples a shadow with probability rate.
// Values outside [0,1] are clamped.
func New(rate float64, rng RandSource) *Router {
	if rng == nil {
		rng = SystemRand()
	}
	switch {
	case rate < 0:
		rate = 0
	case rate > 1:
		rate = 1
	}
	return &Router{rate: rate, rng: rng}
}

// Rate returns the effective shadow sampling rate.
func (r *Router) Rate() float64 { return r.rate }

// Choose selects the primary policy and optionally one shadow.
//
// The first active policy in catalog order wins. With no active policy the
// first candidate is used. When shadows exist, one uniform draw below the
// sampling rate picks one of them uniformly at random.
func (r *Router) Choose(policies []policy.Policy) (Decision, error) {
	if len(policies) == 0 {
		return Decision{}, ErrEmptyCandidateSet
	}

	var active, shadow []policy.Policy
	for _, p := range policies {
		switch p.Status {
		case policy.StatusActive:
			active = append(active, p)
		case policy.StatusShadow:
			shadow = append(shadow, p)
		}
	}

	d := Decision{
		Selected:         policies[0],
		ShadowCandidates: []policy.Policy{},
		Reason:           ReasonActive,
	}
	if len(active) > 0 {
		d.Selected = active[0]
	}

	if len(shadow) > 0 && r.rng.Float64() < r.rate {
		d.ShadowCandidates = append(d.ShadowCandidates, shadow[r.rng.IntN(len(shadow))])
		d.Reason = ReasonShadowSampled
	}
	return d, nil
}
