package guardrails

import (
	"context"
	"fmt"

	"github.com/AlfredDev/alfred/llm/tokenizer"
)

// MaxOutputTokensValidator trips when a completion's output exceeds the
// tenant's configured output-token ceiling. Token count is computed with
// the model's registered tokenizer, falling back to the character-based
// estimator for unknown models.
type MaxOutputTokensValidator struct {
	model     string
	maxTokens int
	priority  int
}

// NewMaxOutputTokensValidator builds a validator bound to model's tokenizer.
func NewMaxOutputTokensValidator(model string, maxTokens int, priority int) *MaxOutputTokensValidator {
	return &MaxOutputTokensValidator{model: model, maxTokens: maxTokens, priority: priority}
}

func (v *MaxOutputTokensValidator) Name() string { return "max_output_tokens" }

func (v *MaxOutputTokensValidator) Priority() int { return v.priority }

func (v *MaxOutputTokensValidator) Validate(ctx context.Context, content string) (*ValidationResult, error) {
	result := NewValidationResult()

	tok := tokenizer.GetTokenizerOrEstimator(v.model)
	count, err := tok.CountTokens(content)
	if err != nil {
		return result, err
	}

	result.Metadata["output_tokens"] = count
	if count > v.maxTokens {
		result.Tripwire = true
		result.AddError(ValidationError{
			Code:     ErrCodeMaxOutputTokensExceeded,
			Message:  fmt.Sprintf("output reached %d tokens, exceeding the %d ceiling", count, v.maxTokens),
			Severity: SeverityCritical,
		})
	}
	return result, nil
}

// ByteBudgetValidator trips when a completion's raw byte size exceeds a
// fixed ceiling, independent of tokenizer accuracy — a last-resort guard
// against a misbehaving or malicious upstream that returns unbounded
// output.
type ByteBudgetValidator struct {
	maxBytes int
	priority int
}

// NewByteBudgetValidator builds a byte-budget validator.
func NewByteBudgetValidator(maxBytes int, priority int) *ByteBudgetValidator {
	return &ByteBudgetValidator{maxBytes: maxBytes, priority: priority}
}

func (v *ByteBudgetValidator) Name() string { return "byte_budget" }

func (v *ByteBudgetValidator) Priority() int { return v.priority }

func (v *ByteBudgetValidator) Validate(ctx context.Context, content string) (*ValidationResult, error) {
	result := NewValidationResult()
	size := len(content)
	result.Metadata["response_bytes"] = size
	if size > v.maxBytes {
		result.Tripwire = true
		result.AddError(ValidationError{
			Code:     ErrCodeMaxBytesExceeded,
			Message:  fmt.Sprintf("response reached %d bytes, exceeding the %d budget", size, v.maxBytes),
			Severity: SeverityCritical,
		})
	}
	return result, nil
}

// RepetitionValidator detects degenerate loops in streamed output: it
// looks at the last window word-tokens and trips once any contiguous
// phrase — from a single word up to half the window — repeats back to
// back at least maxRepeats times. A single stuttering token ("aaa") is
// just the phraseLen==1 case; the same scan also catches a multi-token
// phrase cycling ("A B C A B C A B C"), which a single-token run count
// would never see. It is meant to be re-run incrementally as a stream
// accumulates, not just once at the end.
type RepetitionValidator struct {
	window     int
	maxRepeats int
	priority   int
}

// NewRepetitionValidator builds a loop-detection validator over the last
// window words, tripping after maxRepeats consecutive identical phrases.
func NewRepetitionValidator(window, maxRepeats, priority int) *RepetitionValidator {
	return &RepetitionValidator{window: window, maxRepeats: maxRepeats, priority: priority}
}

func (v *RepetitionValidator) Name() string { return "repetition" }

func (v *RepetitionValidator) Priority() int { return v.priority }

func (v *RepetitionValidator) Validate(ctx context.Context, content string) (*ValidationResult, error) {
	result := NewValidationResult()

	words := splitWords(content)
	tail := words
	if len(tail) > v.window {
		tail = tail[len(tail)-v.window:]
	}

	maxRun, phraseLen := maxPhraseRepeat(tail, v.maxRepeats)

	result.Metadata["max_repeat_run"] = maxRun
	result.Metadata["repeat_phrase_len"] = phraseLen
	if maxRun >= v.maxRepeats {
		result.Tripwire = true
		result.AddError(ValidationError{
			Code:     ErrCodeRepetitionDetected,
			Message:  fmt.Sprintf("detected a %d-word phrase repeated %d consecutive times within the last %d words", phraseLen, maxRun, v.window),
			Severity: SeverityHigh,
		})
	}
	return result, nil
}

// maxPhraseRepeat scans every phrase length from 1 up to len(words)/2 and
// every starting offset, returning the highest number of consecutive
// back-to-back repeats found for any phrase and the length of the phrase
// that achieved it. It exits early once a repeat count meeting target is
// found, since callers only care whether the tripwire fires.
func maxPhraseRepeat(words []string, target int) (bestRun int, bestLen int) {
	n := len(words)
	bestRun = 1
	bestLen = 1
	for phraseLen := 1; phraseLen <= n/2; phraseLen++ {
		for start := 0; start+2*phraseLen <= n; start++ {
			run := phraseRunAt(words, start, phraseLen)
			if run > bestRun {
				bestRun, bestLen = run, phraseLen
			}
			if bestRun >= target {
				return bestRun, bestLen
			}
		}
	}
	return bestRun, bestLen
}

// phraseRunAt counts how many consecutive times the phraseLen-word phrase
// starting at start repeats immediately after itself.
func phraseRunAt(words []string, start, phraseLen int) int {
	phrase := words[start : start+phraseLen]
	run := 1
	for next := start + phraseLen; next+phraseLen <= len(words); next += phraseLen {
		if !equalSlice(words[next:next+phraseLen], phrase) {
			break
		}
		run++
	}
	return run
}

func equalSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitWords is a minimal whitespace tokenizer; it only needs to be
// consistent across calls on the same stream, not linguistically correct.
func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}
