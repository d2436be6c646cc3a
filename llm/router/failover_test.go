package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	llmpkg "github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/circuitbreaker"
	"github.com/AlfredDev/alfred/llm/config"
	"github.com/AlfredDev/alfred/types"
)

func testPolicy() FailoverPolicy {
	return FailoverPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestFailoverDispatchSucceedsOnPrimary(t *testing.T) {
	r := NewWeightedRouter(zap.NewNop(), nil)
	r.LoadCandidates(&config.LLMConfig{
		Providers: map[string]config.ProviderConfig{
			"openai": {Enabled: true, Models: []config.ModelConfig{{ID: "m1", Name: "gpt-4o", Enabled: true}}},
		},
	})

	f := NewFailover(r, testPolicy(), nil, zap.NewNop())

	calls := 0
	resp, err := f.Dispatch(context.Background(), "m1", func(ctx context.Context, provider, model string) (*llmpkg.ChatResponse, error) {
		calls++
		return &llmpkg.ChatResponse{Model: model}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "openai", resp.ProviderCode)
	assert.Equal(t, 1, resp.Hops)
}

func TestFailoverFallsBackAfterTransientError(t *testing.T) {
	r := NewWeightedRouter(zap.NewNop(), nil)
	r.LoadCandidates(&config.LLMConfig{
		Providers: map[string]config.ProviderConfig{
			"openai": {Enabled: true, Models: []config.ModelConfig{
				{ID: "m1", Name: "primary", Enabled: true, FallbackIDs: []string{"m2"}},
				{ID: "m2", Name: "fallback", Enabled: true},
			}},
		},
	})

	f := NewFailover(r, testPolicy(), nil, zap.NewNop())

	var seen []string
	resp, err := f.Dispatch(context.Background(), "m1", func(ctx context.Context, provider, model string) (*llmpkg.ChatResponse, error) {
		seen = append(seen, model)
		if model == "primary" {
			return nil, types.NewError(types.ErrUpstreamTransient, "upstream 503")
		}
		return &llmpkg.ChatResponse{Model: model}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.ModelName)
	assert.Equal(t, 2, resp.Hops)
	assert.Contains(t, seen, "primary")
	assert.Contains(t, seen, "fallback")
}

func TestFailoverDoesNotRetryPermanentErrorsOnSameHop(t *testing.T) {
	r := NewWeightedRouter(zap.NewNop(), nil)
	r.LoadCandidates(&config.LLMConfig{
		Providers: map[string]config.ProviderConfig{
			"openai": {Enabled: true, Models: []config.ModelConfig{
				{ID: "m1", Name: "primary", Enabled: true, FallbackIDs: []string{"m2"}},
				{ID: "m2", Name: "fallback", Enabled: true},
			}},
		},
	})

	f := NewFailover(r, FailoverPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil, zap.NewNop())

	primaryAttempts := 0
	_, err := f.Dispatch(context.Background(), "m1", func(ctx context.Context, provider, model string) (*llmpkg.ChatResponse, error) {
		if model == "primary" {
			primaryAttempts++
			return nil, types.NewError(types.ErrUpstreamPermanent, "bad request upstream")
		}
		return &llmpkg.ChatResponse{Model: model}, nil
	})
	require.NoError(t, err, "a permanent error on the primary hop must advance to the fallback, not fail the whole dispatch")
	assert.Equal(t, 1, primaryAttempts, "a permanent error must not be retried on the same hop")
}

func TestFailoverExhaustsChainAndReturnsLastError(t *testing.T) {
	r := NewWeightedRouter(zap.NewNop(), nil)
	r.LoadCandidates(&config.LLMConfig{
		Providers: map[string]config.ProviderConfig{
			"openai": {Enabled: true, Models: []config.ModelConfig{{ID: "m1", Name: "only", Enabled: true}}},
		},
	})
	f := NewFailover(r, FailoverPolicy{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil, zap.NewNop())

	_, err := f.Dispatch(context.Background(), "m1", func(ctx context.Context, provider, model string) (*llmpkg.ChatResponse, error) {
		return nil, types.NewError(types.ErrUpstreamPermanent, "nope")
	})
	assert.Error(t, err)
}

func TestFailoverSkipsHopWithOpenBreaker(t *testing.T) {
	r := NewWeightedRouter(zap.NewNop(), nil)
	r.LoadCandidates(&config.LLMConfig{
		Providers: map[string]config.ProviderConfig{
			"openai": {Enabled: true, Region: "us", Models: []config.ModelConfig{
				{ID: "m1", Name: "primary", Enabled: true, FallbackIDs: []string{"m2"}},
			}},
			"azure": {Enabled: true, Region: "us", Models: []config.ModelConfig{
				{ID: "m2", Name: "fallback", Enabled: true},
			}},
		},
	})

	breakers := NewBreakerRegistry(&circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Hour}, zap.NewNop())
	// Pre-trip the primary's breaker by feeding it one failure.
	cb := breakers.Get("openai", "us")
	_ = cb.Call(context.Background(), func() error { return assertErr })
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	f := NewFailover(r, testPolicy(), breakers, zap.NewNop())

	var seen []string
	resp, err := f.Dispatch(context.Background(), "m1", func(ctx context.Context, provider, model string) (*llmpkg.ChatResponse, error) {
		seen = append(seen, model)
		return &llmpkg.ChatResponse{Model: model}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.ModelName)
	assert.NotContains(t, seen, "primary", "a hop whose breaker is open must never be invoked")
}

var assertErr = assertError{}

type assertError struct{}

func (assertError) Error() string { return "boom" }
