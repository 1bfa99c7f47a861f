// Package resilience provides the shared retry policy and circuit breaker
// used by the browser controller and the outbound search adapters.
package resilience
