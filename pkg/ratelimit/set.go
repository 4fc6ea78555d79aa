package ratelimit

import (
	"sort"
	"sync"

	"github.com/chainwatch/chainwatch/pkg/errors"
)

// Set holds one limiter per upstream service. It is the injectable
// construction point for the request path; callers receive it explicitly
// instead of reaching for package-level singletons.
type Set struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewSet creates an empty limiter set
func NewSet() *Set {
	return &Set{limiters: make(map[string]*Limiter)}
}

// Add registers a limiter for service, replacing any previous one
func (s *Set) Add(service string, cfg Config) (*Limiter, error) {
	limiter, err := New(service, cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[service] = limiter
	return limiter, nil
}

// Get returns the limiter for service
func (s *Set) Get(service string) (*Limiter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limiter, ok := s.limiters[service]
	if !ok {
		return nil, errors.NewNotFoundError("rate limiter")
	}
	return limiter, nil
}

// Services returns the registered service names, sorted
func (s *Set) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]string, 0, len(s.limiters))
	for service := range s.limiters {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}
