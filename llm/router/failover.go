package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	llmpkg "github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/retry"
	"github.com/AlfredDev/alfred/types"

	"go.uber.org/zap"
)

// FailoverPolicy bounds how much latency a single request may spend
// retrying before the gateway gives up and returns an error upstream.
// The defaults keep the worst case (two retries on the primary model,
// each backed off) comfortably under one added second.
type FailoverPolicy struct {
	MaxRetries   int           // retries per model before moving to the next fallback
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultFailoverPolicy returns the policy used when the gateway config
// doesn't override it: two retries per model, starting at 100ms and
// capped at 400ms, so a full walk of a two-entry fallback chain adds at
// most ~900ms of backoff before the final attempt.
func DefaultFailoverPolicy() FailoverPolicy {
	return FailoverPolicy{
		MaxRetries:   2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     400 * time.Millisecond,
	}
}

// CallFunc invokes a single candidate model and returns its response.
// Dispatch supplies the provider code and model name resolved for each
// hop in the fallback chain.
type CallFunc func(ctx context.Context, providerCode, modelName string) (*llmpkg.ChatResponse, error)

// DispatchResult reports which candidate in the fallback chain actually
// served the request, so callers can meter and bill against the model
// that ran rather than the one originally requested.
type DispatchResult struct {
	ProviderCode string
	ModelID      string
	ModelName    string
	Response     *llmpkg.ChatResponse
	Attempts     int
	Hops         int
}

// Failover walks a model's configured fallback chain, retrying each hop
// with jittered exponential backoff before moving to the next model. It
// reuses the shared backoff delay math (retry.BackoffDelay) and adds the
// fallback-chain walk and the permanent-error short-circuit the plain
// retryer doesn't have.
// Each hop also consults a BreakerRegistry keyed by (provider, region):
// a hop whose breaker is Open is skipped without being attempted, and a
// hop's outcome is reported back to its breaker regardless of which
// branch of the retry loop produced it.
type Failover struct {
	router   *WeightedRouter
	policy   FailoverPolicy
	breakers *BreakerRegistry
	logger   *zap.Logger
}

// NewFailover builds a Failover bound to router's candidate set. breakers
// may be nil, in which case every hop is attempted regardless of recent
// failure history.
func NewFailover(router *WeightedRouter, policy FailoverPolicy, breakers *BreakerRegistry, logger *zap.Logger) *Failover {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 100 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 400 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Failover{router: router, policy: policy, breakers: breakers, logger: logger}
}

// Dispatch calls modelID via call, retrying per FailoverPolicy, and on
// exhaustion walks modelID's configured fallback chain in order. An
// ErrUpstreamPermanent response ends retries for that hop immediately
// and advances straight to the next fallback candidate; it never ends
// the walk early, since a different provider may not share the fault.
func (f *Failover) Dispatch(ctx context.Context, modelID string, call CallFunc) (*DispatchResult, error) {
	chain, err := f.chain(modelID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for hop, id := range chain {
		candidates := f.router.GetCandidates()
		c, ok := candidates[id]
		if !ok || !c.Enabled {
			continue
		}

		if f.breakers != nil && !f.breakers.Allow(c.ProviderCode, c.Region) {
			f.logger.Debug("dispatch hop skipped: breaker open",
				zap.String("model_id", id), zap.String("provider", c.ProviderCode), zap.String("region", c.Region))
			lastErr = fmt.Errorf("provider %s/%s: circuit open", c.ProviderCode, c.Region)
			continue
		}

		resp, attempts, err := f.callWithRetry(ctx, c.ProviderCode, c.ModelName, call)
		if f.breakers != nil {
			f.recordOutcome(c.ProviderCode, c.Region, err)
		}
		if err == nil {
			return &DispatchResult{
				ProviderCode: c.ProviderCode,
				ModelID:      c.ModelID,
				ModelName:    c.ModelName,
				Response:     resp,
				Attempts:     attempts,
				Hops:         hop + 1,
			}, nil
		}

		f.logger.Warn("dispatch hop failed",
			zap.String("model_id", id),
			zap.String("provider", c.ProviderCode),
			zap.Int("hop", hop+1),
			zap.Error(err))
		lastErr = err
	}

	if lastErr == nil {
		lastErr = ErrNoAvailableModel
	}
	return nil, lastErr
}

// recordOutcome feeds a hop's result into its (provider, region) breaker
// via a no-op Call so the breaker's own failure-count/state-transition
// logic — not Failover's — governs when it opens.
func (f *Failover) recordOutcome(provider, region string, hopErr error) {
	cb := f.breakers.Get(provider, region)
	_ = cb.Call(context.Background(), func() error { return hopErr })
}

// chain resolves modelID plus its configured FallbackIDs into an ordered,
// deduplicated list of model IDs to try.
func (f *Failover) chain(modelID string) ([]string, error) {
	candidates := f.router.GetCandidates()
	primary, ok := candidates[modelID]
	if !ok {
		return nil, ErrNoAvailableModel
	}

	seen := map[string]bool{modelID: true}
	chain := []string{modelID}
	for _, id := range primary.FallbackIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		chain = append(chain, id)
	}
	return chain, nil
}

// callWithRetry retries a single hop up to policy.MaxRetries times,
// refusing to retry an upstream_permanent classification. It attempts the
// call directly rather than through retry.Retryer: that backoffRetryer
// always retries an unclassified error when no RetryableErrors list is
// configured, which would keep retrying a permanent upstream failure;
// this loop stops the moment a hop's error stops qualifying, reusing only
// the backoff math (InitialDelay, MaxDelay, the 2x multiplier, ±25%
// jitter) retry.Retryer itself uses.
func (f *Failover) callWithRetry(ctx context.Context, providerCode, modelName string, call CallFunc) (*llmpkg.ChatResponse, int, error) {
	var lastErr error

	for attempt := 0; attempt <= f.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retry.BackoffDelay(f.policy.InitialDelay, f.policy.MaxDelay, 2.0, attempt, true)
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := call(ctx, providerCode, modelName)
		if err == nil {
			return resp, attempt + 1, nil
		}

		lastErr = err
		if !isHopRetryable(err) {
			return nil, attempt + 1, lastErr
		}
	}

	return nil, f.policy.MaxRetries + 1, lastErr
}

// isHopRetryable reports whether err should be retried on the same
// (provider, model) hop rather than immediately advancing the fallback
// chain. Non-gateway errors (anything not wrapped in *types.Error) are
// treated as transient network failures and retried.
func isHopRetryable(err error) bool {
	var gwErr *types.Error
	if errors.As(err, &gwErr) {
		return types.IsRetryableKind(gwErr.Code)
	}
	return true
}

