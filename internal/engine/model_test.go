package engine

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-neox/internal/config"
	"github.com/23skdu/longbow-neox/internal/quant"
	"github.com/23skdu/longbow-neox/internal/tensor"
)

func testConfig() config.Config {
	return config.Config{
		Name:             "neox-test",
		HiddenSize:       16,
		IntermediateSize: 32,
		Layers:           2,
		Heads:            2,
		VocabSize:        32,
		MaxSeqLen:        16,
		Eps:              1e-5,
		RotaryBase:       10000,
		RotaryPct:        0.25,
		GroupSize:        8,
		StopTokens:       []int{0},
	}
}

// randomParams builds a small but fully populated parameter map with
// weights scaled down enough that activations stay well-conditioned.
func randomParams(t *testing.T, cfg config.Config, seed int64) map[string]paramValue {
	t.Helper()
	codec, err := quant.NewCodec(cfg.GroupSize)
	if err != nil {
		t.Fatal(err)
	}
	r := rand.New(rand.NewSource(seed))
	params := make(map[string]paramValue)
	for _, s := range ParamSpecs(cfg) {
		vals := tensor.New(s.Shape...)
		for i := range vals.Data() {
			vals.Data()[i] = (r.Float32()*2 - 1) * 0.1
		}
		if s.Kind == KindQuantized {
			qw, err := codec.Encode(vals)
			if err != nil {
				t.Fatalf("encode %s: %v", s.Name, err)
			}
			params[s.Name] = paramValue{q: qw}
		} else {
			params[s.Name] = paramValue{f: vals}
		}
	}
	return params
}

func testModel(t *testing.T, seed int64) *Model {
	t.Helper()
	cfg := testConfig()
	m, err := NewModel(cfg, randomParams(t, cfg, seed))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestEncodingShapeAndCacheLength(t *testing.T) {
	m := testModel(t, 1)
	cache := m.NewCache()

	ids := []int{3, 7, 11, 2}
	logits, err := m.Encoding(ids, len(ids), cache)
	if err != nil {
		t.Fatal(err)
	}
	if logits.Rank() != 3 || logits.Dim(0) != 1 || logits.Dim(1) != 1 || logits.Dim(2) != m.Config().VocabSize {
		t.Fatalf("logits shape %v, want (1,1,%d)", logits.Shape(), m.Config().VocabSize)
	}
	if cache.Len() != len(ids) {
		t.Fatalf("cache holds %d positions after prefill of %d", cache.Len(), len(ids))
	}
	if tensor.HasNaNOrInf(logits.Data()) {
		t.Fatal("prefill produced non-finite logits")
	}
}

func TestDecodingExtendsCacheByOne(t *testing.T) {
	m := testModel(t, 2)
	cache := m.NewCache()

	ids := []int{5, 9}
	if _, err := m.Encoding(ids, len(ids), cache); err != nil {
		t.Fatal(err)
	}
	for step := 0; step < 3; step++ {
		total := len(ids) + step + 1
		logits, err := m.Decoding(1+step, total, cache)
		if err != nil {
			t.Fatalf("decode step %d: %v", step, err)
		}
		if cache.Len() != total {
			t.Fatalf("cache holds %d positions, want %d", cache.Len(), total)
		}
		if logits.Dim(2) != m.Config().VocabSize {
			t.Fatalf("decode logits width %d", logits.Dim(2))
		}
	}
}

func TestPrefillDecodeConsistency(t *testing.T) {
	// The last-position logits of a full prefill must match prefilling
	// one token less and decoding the final token incrementally.
	m := testModel(t, 3)
	ids := []int{4, 8, 15, 16, 23}

	full := m.NewCache()
	want, err := m.Encoding(ids, len(ids), full)
	if err != nil {
		t.Fatal(err)
	}

	split := m.NewCache()
	if _, err := m.Encoding(ids[:len(ids)-1], len(ids)-1, split); err != nil {
		t.Fatal(err)
	}
	got, err := m.Decoding(ids[len(ids)-1], len(ids), split)
	if err != nil {
		t.Fatal(err)
	}

	for i := range want.Data() {
		diff := math.Abs(float64(want.Data()[i] - got.Data()[i]))
		if diff > 1e-4 {
			t.Fatalf("logit %d: prefill %v vs decode %v (diff %v)", i, want.Data()[i], got.Data()[i], diff)
		}
	}
}

func TestEncodingContractViolations(t *testing.T) {
	m := testModel(t, 4)

	if _, err := m.Encoding(nil, 0, m.NewCache()); err == nil {
		t.Fatal("expected error for empty prompt")
	}
	if _, err := m.Encoding([]int{1, 2}, 3, m.NewCache()); err == nil {
		t.Fatal("expected error for totalLen mismatch")
	}

	cache := m.NewCache()
	if _, err := m.Encoding([]int{1, 2}, 2, cache); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Encoding([]int{1, 2}, 2, cache); err == nil {
		t.Fatal("expected error for non-empty cache")
	}
	if _, err := m.Decoding(1, 5, cache); err == nil {
		t.Fatal("expected error for totalLen not extending cache")
	}
}

func TestForwardRejectsBadTokensAndLongSequences(t *testing.T) {
	m := testModel(t, 5)

	if _, err := m.Encoding([]int{m.Config().VocabSize}, 1, m.NewCache()); err == nil {
		t.Fatal("expected error for out-of-vocabulary token")
	}
	if _, err := m.Encoding([]int{-1}, 1, m.NewCache()); err == nil {
		t.Fatal("expected error for negative token")
	}

	long := make([]int, m.Config().MaxSeqLen+1)
	_, err := m.Encoding(long, len(long), m.NewCache())
	if !errors.Is(err, ErrSequenceTooLong) {
		t.Fatalf("expected ErrSequenceTooLong, got %v", err)
	}
}

func TestCausalityPastUnaffectedByFuture(t *testing.T) {
	// Changing a later prompt token must not change the cached state
	// or logits produced at an earlier position.
	m := testModel(t, 6)

	a := m.NewCache()
	if _, err := m.Encoding([]int{2, 3, 4}, 3, a); err != nil {
		t.Fatal(err)
	}
	b := m.NewCache()
	if _, err := m.Encoding([]int{2, 3, 21}, 3, b); err != nil {
		t.Fatal(err)
	}

	// Positions 0 and 1 were computed before the differing token.
	ka, _, err := a.View(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	kb, _, err := b.View(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range ka.Data() {
		if ka.Data()[i] != kb.Data()[i] {
			t.Fatalf("cached key %d differs when only a future token changed", i)
		}
	}
}
