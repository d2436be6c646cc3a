package guardrails

import (
	"context"
	"sort"
	"sync"
)

// Chain runs its Validators in priority order, aggregating their results.
// A Tripwire from any Validator aborts the chain immediately with a
// TripwireError, regardless of position.
type Chain struct {
	mu         sync.RWMutex
	validators []Validator
}

// NewChain builds a Chain over validators.
func NewChain(validators ...Validator) *Chain {
	c := &Chain{}
	c.validators = append(c.validators, validators...)
	return c
}

// Add appends validators to the chain.
func (c *Chain) Add(validators ...Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators = append(c.validators, validators...)
}

// Validate runs every validator in priority order against content,
// merging their results. If any validator sets Tripwire, Validate stops
// and returns a *TripwireError alongside the partial result.
func (c *Chain) Validate(ctx context.Context, content string) (*ValidationResult, error) {
	c.mu.RLock()
	ordered := make([]Validator, len(c.validators))
	copy(ordered, c.validators)
	c.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority() < ordered[j].Priority() })

	result := NewValidationResult()
	for _, v := range ordered {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		vResult, err := v.Validate(ctx, content)
		if err != nil {
			result.AddError(ValidationError{
				Code:     ErrCodeValidationFailed,
				Message:  "validator " + v.Name() + " failed: " + err.Error(),
				Severity: SeverityCritical,
			})
			continue
		}

		if vResult.Tripwire {
			result.Merge(vResult)
			return result, &TripwireError{ValidatorName: v.Name(), Result: result}
		}
		result.Merge(vResult)
	}
	return result, nil
}
