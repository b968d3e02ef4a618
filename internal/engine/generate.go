package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/23skdu/longbow-neox/internal/logger"
	"github.com/23skdu/longbow-neox/internal/metrics"
)

// Tokenizer maps between text and token ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
}

// TracePublisher receives one record per decode step. Implementations
// must tolerate being called on the hot path; errors are logged and do
// not stop generation.
type TracePublisher interface {
	PublishStep(ctx context.Context, step, tokenID int, logits []float32) error
}

// GenerateOptions control one generation run.
type GenerateOptions struct {
	MaxGenLen   int
	Temperature float64
	TopP        float64
	Seed        int64

	// StopTokens overrides the model's stop set when non-nil.
	StopTokens []int
	// StopStr truncates the output at its last occurrence after the
	// prompt, if seen.
	StopStr string
	// StreamInterval is the number of steps between stream callbacks;
	// 0 means every step.
	StreamInterval int
}

type loopState int

const (
	statePrefill loopState = iota
	stateDecode
	stateStopped
)

// Engine drives the decoding loop over one model. It is safe to run
// concurrent Generate calls; each run owns its cache and sampler.
type Engine struct {
	model *Model
	tok   Tokenizer
	trace TracePublisher
}

func New(model *Model, tok Tokenizer) *Engine {
	return &Engine{model: model, tok: tok}
}

// SetTracePublisher attaches an optional per-step trace sink. Call
// before Generate.
func (e *Engine) SetTracePublisher(p TracePublisher) { e.trace = p }

// Generate runs prefill over prompt and then decodes up to MaxGenLen
// tokens, stopping early on a stop token or StopStr. stream, when
// non-nil, receives the decoded text so far at every StreamInterval
// steps and at the end. ctx is checked between steps only; a step in
// flight always completes.
func (e *Engine) Generate(ctx context.Context, prompt string, opts GenerateOptions, stream func(string)) (string, error) {
	if opts.MaxGenLen <= 0 {
		return "", fmt.Errorf("generate: MaxGenLen must be positive")
	}
	interval := opts.StreamInterval
	if interval <= 0 {
		interval = 1
	}
	promptIDs := e.tok.Encode(prompt)
	if len(promptIDs) == 0 {
		return "", fmt.Errorf("generate: prompt produced no tokens")
	}

	stops := make(map[int]bool)
	for _, id := range opts.StopTokens {
		stops[id] = true
	}
	if opts.StopTokens == nil {
		for _, id := range e.model.Config().StopTokens {
			stops[id] = true
		}
	}

	sampler := NewSampler(SamplerConfig{
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Seed:        opts.Seed,
	})
	cache := e.model.NewCache()
	metrics.SequencesTotal.Inc()

	state := statePrefill
	tokens := append([]int(nil), promptIDs...)

	start := time.Now()
	logits, err := e.model.Encoding(promptIDs, len(promptIDs), cache)
	if err != nil {
		return "", fmt.Errorf("prefill: %w", err)
	}
	metrics.RecordPrefill(len(promptIDs), time.Since(start))
	state = stateDecode

	output := prompt
	generated := 0
	stopReason := "max_len"

	for state == stateDecode {
		next, err := sampler.Sample(logits.Data())
		if err != nil {
			metrics.RecordNumericFault("sample")
			return output, fmt.Errorf("step %d: %w", generated, err)
		}
		tokens = append(tokens, next)
		generated++
		metrics.RecordToken()

		if e.trace != nil {
			if terr := e.trace.PublishStep(ctx, generated, next, logits.Data()); terr != nil {
				logger.Warn("trace publish failed", "step", generated, "error", terr)
			}
		}

		stopped := stops[next]
		if stopped {
			stopReason = "stop_token"
		}
		atLimit := generated >= opts.MaxGenLen

		if stopped || atLimit || generated%interval == 0 {
			text := e.tok.Decode(tokens)
			if opts.StopStr != "" {
				if pos := lastIndexFrom(text, opts.StopStr, len(prompt)); pos >= 0 {
					text = text[:pos]
					stopped = true
					stopReason = "stop_str"
				}
			}
			output = text
			if stream != nil {
				stream(text)
			}
		}
		if stopped || atLimit {
			state = stateStopped
			break
		}
		if err := ctx.Err(); err != nil {
			metrics.RecordStop("canceled")
			return output, err
		}

		stepStart := time.Now()
		logits, err = e.model.Decoding(next, len(tokens), cache)
		if err != nil {
			return output, fmt.Errorf("step %d: %w", generated, err)
		}
		metrics.RecordDecodeStep(time.Since(stepStart))
		metrics.ContextLengthHistogram.Observe(float64(len(tokens)))
	}

	metrics.RecordStop(stopReason)
	logger.Debug("generation finished",
		"prompt_tokens", len(promptIDs), "generated", generated, "reason", stopReason)
	return output, nil
}

// lastIndexFrom finds the highest index of sub at or after start.
func lastIndexFrom(s, sub string, start int) int {
	if start > len(s) {
		return -1
	}
	if i := strings.LastIndex(s[start:], sub); i >= 0 {
		return start + i
	}
	return -1
}
