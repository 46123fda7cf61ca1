// Package gateway is the business boundary for routed inference. The Service
// looks up candidate policies, asks the router for a decision, answers from
// the primary call, and finishes shadow comparison and telemetry in the
// background.
package gateway
