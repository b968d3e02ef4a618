package engine

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/23skdu/longbow-neox/internal/tensor"
)

// SamplerConfig controls next-token selection. Temperature 0 selects
// the argmax deterministically; otherwise TopP nucleus sampling runs
// over the tempered distribution.
type SamplerConfig struct {
	Temperature float64
	TopP        float64
	Seed        int64
}

// Sampler draws next tokens from logits vectors. It owns its RNG so
// runs with the same seed reproduce exactly.
type Sampler struct {
	cfg SamplerConfig
	rng *rand.Rand
}

func NewSampler(cfg SamplerConfig) *Sampler {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Sample picks a token index from logits. Non-finite logits are a
// numeric fault, reported distinctly so callers can abort the
// sequence rather than emit garbage.
func (s *Sampler) Sample(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, fmt.Errorf("sampler: empty logits")
	}
	if tensor.HasNaNOrInf(logits) {
		return 0, fmt.Errorf("sampler: %w", ErrNumericFault)
	}
	if s.cfg.Temperature == 0 {
		return tensor.ArgMax(logits), nil
	}

	// Tempered softmax in float64 for a stable cumulative sum.
	probs := make([]float64, len(logits))
	maxL := float64(logits[0]) / s.cfg.Temperature
	for i, l := range logits {
		probs[i] = float64(l) / s.cfg.Temperature
		if probs[i] > maxL {
			maxL = probs[i]
		}
	}
	var sum float64
	for i := range probs {
		probs[i] = math.Exp(probs[i] - maxL)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })

	// Nucleus cut: drop every token whose cumulative mass, excluding
	// itself, already exceeds TopP. The top token always survives.
	var cum, kept float64
	n := 0
	for _, idx := range order {
		p := probs[idx]
		cum += p
		if cum-p > s.cfg.TopP && n > 0 {
			break
		}
		kept += p
		n++
	}

	r := s.rng.Float64() * kept
	var acc float64
	for _, idx := range order[:n] {
		acc += probs[idx]
		if r < acc {
			return idx, nil
		}
	}
	return order[n-1], nil
}
