// Package router decides which policies serve a request and executes them.
// It defines the Router (policy selection with shadow sampling), the
// Dispatcher (concurrent primary and shadow fan-out with per-call latency),
// and Compare (primary versus shadow verdicts).
package router
