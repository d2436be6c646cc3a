package router

import (
	"sync"

	"github.com/AlfredDev/alfred/llm/circuitbreaker"

	"go.uber.org/zap"
)

// BreakerRegistry hands out one circuit breaker per (provider, region)
// pair, lazily, so a regional outage on one provider's us-east deployment
// doesn't trip the breaker for its eu-west deployment. Keyed with a
// sync.Map rather than a mutex-guarded map: lookups vastly outnumber the
// one-time creation of a new key, the case sync.Map is built for.
type BreakerRegistry struct {
	cfg     *circuitbreaker.Config
	logger  *zap.Logger
	breakers sync.Map // key string -> circuitbreaker.CircuitBreaker
}

// NewBreakerRegistry builds a registry that constructs breakers with cfg.
// A nil cfg falls back to circuitbreaker.DefaultConfig() for every key.
func NewBreakerRegistry(cfg *circuitbreaker.Config, logger *zap.Logger) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, logger: logger}
}

func breakerKey(provider, region string) string {
	if region == "" {
		region = "default"
	}
	return provider + "/" + region
}

// Get returns the breaker for (provider, region), creating it on first
// use.
func (r *BreakerRegistry) Get(provider, region string) circuitbreaker.CircuitBreaker {
	key := breakerKey(provider, region)
	if v, ok := r.breakers.Load(key); ok {
		return v.(circuitbreaker.CircuitBreaker)
	}

	cb := circuitbreaker.NewCircuitBreaker(r.cfg, r.logger)
	actual, _ := r.breakers.LoadOrStore(key, cb)
	return actual.(circuitbreaker.CircuitBreaker)
}

// Allow reports whether a call to (provider, region) should be attempted
// right now, i.e. its breaker isn't Open.
func (r *BreakerRegistry) Allow(provider, region string) bool {
	return r.Get(provider, region).State() != circuitbreaker.StateOpen
}
