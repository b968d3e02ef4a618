package engine

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-neox/internal/config"
	"github.com/23skdu/longbow-neox/internal/tensor"
)

// RotaryTable holds precomputed cos/sin rotation factors for every
// position up to the model's maximum context length. Only the leading
// rotaryDim lanes of each head are rotated; the rest pass through.
type RotaryTable struct {
	cos []float32 // (maxSeqLen, rotaryDim) row-major
	sin []float32

	heads     int
	headDim   int
	rotaryDim int
	maxSeqLen int
}

// NewRotaryTable builds the rotation tables for cfg. The frequency for
// lane pair i is base^(-2i/rotaryDim), and each half of the rotary span
// shares the same frequency ladder.
func NewRotaryTable(cfg config.Config) *RotaryTable {
	headDim := cfg.HeadDim()
	rd := cfg.RotaryDim()
	half := rd / 2

	invFreq := make([]float64, half)
	for i := 0; i < half; i++ {
		invFreq[i] = math.Pow(float64(cfg.RotaryBase), -float64(2*i)/float64(rd))
	}

	t := &RotaryTable{
		cos:       make([]float32, cfg.MaxSeqLen*rd),
		sin:       make([]float32, cfg.MaxSeqLen*rd),
		heads:     cfg.Heads,
		headDim:   headDim,
		rotaryDim: rd,
		maxSeqLen: cfg.MaxSeqLen,
	}
	for pos := 0; pos < cfg.MaxSeqLen; pos++ {
		row := pos * rd
		for i := 0; i < half; i++ {
			angle := float64(pos) * invFreq[i]
			c := float32(math.Cos(angle))
			s := float32(math.Sin(angle))
			t.cos[row+i] = c
			t.cos[row+half+i] = c
			t.sin[row+i] = s
			t.sin[row+half+i] = s
		}
	}
	return t
}

// RotaryDim reports the number of rotated lanes per head.
func (t *RotaryTable) RotaryDim() int { return t.rotaryDim }

// Apply rotates q and k in place. Both are (seq, heads, headDim) and
// row s is treated as absolute position offset+s. Positions past the
// table's capacity are rejected.
func (t *RotaryTable) Apply(q, k *tensor.Tensor, offset int) error {
	if q.Rank() != 3 || k.Rank() != 3 {
		return fmt.Errorf("rotary: expected rank-3 q/k, got %d and %d", q.Rank(), k.Rank())
	}
	seq := q.Dim(0)
	if k.Dim(0) != seq {
		return fmt.Errorf("rotary: q has %d rows, k has %d", seq, k.Dim(0))
	}
	if offset < 0 || offset+seq > t.maxSeqLen {
		return fmt.Errorf("rotary: positions [%d, %d) out of range 0..%d: %w",
			offset, offset+seq, t.maxSeqLen, ErrSequenceTooLong)
	}
	for s := 0; s < seq; s++ {
		row := (offset + s) * t.rotaryDim
		cos := t.cos[row : row+t.rotaryDim]
		sin := t.sin[row : row+t.rotaryDim]
		t.rotateRow(q.Row(s), cos, sin)
		t.rotateRow(k.Row(s), cos, sin)
	}
	return nil
}

func (t *RotaryTable) rotateRow(row, cos, sin []float32) {
	half := t.rotaryDim / 2
	var tmp [256]float32
	orig := tmp[:]
	if t.rotaryDim > len(tmp) {
		orig = make([]float32, t.rotaryDim)
	}
	orig = orig[:t.rotaryDim]
	for h := 0; h < t.heads; h++ {
		x := row[h*t.headDim : h*t.headDim+t.rotaryDim]
		copy(orig, x)
		for j := 0; j < t.rotaryDim; j++ {
			var rot float32
			if j < half {
				rot = -orig[j+half]
			} else {
				rot = orig[j-half]
			}
			x[j] = cos[j]*orig[j] + sin[j]*rot
		}
	}
}
