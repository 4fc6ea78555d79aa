package resilience

import (
	"sort"
	"sync"
)

// BreakerCounters is the read-only view of a breaker's counts consumed by
// health reporting. TotalRequests covers the current generation only.
type BreakerCounters struct {
	Failures      uint32 `json:"failures"`
	TotalRequests uint32 `json:"total_requests"`
}

// Registry holds one circuit breaker per upstream service and exposes the
// read side the health monitor folds into component status. The registry
// owns breaker lifecycle; readers never reset counters.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
}

// NewRegistry creates a breaker registry. The config supplies defaults for
// breakers created lazily; its Name field is ignored.
func NewRegistry(defaults CircuitBreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for service, creating it on first use
func (r *Registry) Get(service string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok = r.breakers[service]; ok {
		return cb
	}

	cfg := r.defaults
	cfg.Name = service
	cb = NewCircuitBreaker(cfg)
	r.breakers[service] = cb
	return cb
}

// State returns the breaker state for service
func (r *Registry) State(service string) CircuitState {
	return r.Get(service).State()
}

// Counters returns failure counters for service
func (r *Registry) Counters(service string) BreakerCounters {
	counts := r.Get(service).Counts()
	return BreakerCounters{
		Failures:      counts.TotalFailures,
		TotalRequests: counts.Requests,
	}
}

// Services returns the registered service names, sorted
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]string, 0, len(r.breakers))
	for service := range r.breakers {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}
