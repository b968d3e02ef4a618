// Package quant implements the 4-bit grouped asymmetric quantization
// format used for model weights: per row, each group of GroupSize
// contiguous columns is linearly mapped to indices in [0,15] with a
// per-group scale and bias. Eight indices pack into one uint32 word
// (low nibble first); the scale and bias pack as two bfloat16 halves
// into one uint32 word per group.
package quant

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-neox/internal/tensor"
)

// DefaultGroupSize is the production group width.
const DefaultGroupSize = 32

const levels = 15 // 4-bit index range is [0,15]

// Weight is the packed, read-only representation of a (Rows, Cols)
// float32 matrix.
type Weight struct {
	Rows, Cols int
	GroupSize  int
	Packed     []uint32 // Rows * Cols/8 words, 8 nibbles each
	ScaleBias  []uint32 // Rows * Cols/GroupSize words, bf16 scale | bf16 bias << 16
}

// Codec encodes and decodes weights for one fixed group size.
type Codec struct {
	GroupSize int
}

// NewCodec validates the group size once, at construction.
func NewCodec(groupSize int) (*Codec, error) {
	if groupSize <= 0 || groupSize%8 != 0 {
		return nil, fmt.Errorf("quant: group size %d must be a positive multiple of 8", groupSize)
	}
	return &Codec{GroupSize: groupSize}, nil
}

// Encode packs a float32 matrix. Cols not divisible by the group size
// is a configuration error and is reported before any inference can
// consume the weight.
func (c *Codec) Encode(w *tensor.Tensor) (*Weight, error) {
	if w.Rank() != 2 {
		return nil, fmt.Errorf("quant: encode wants a rank-2 tensor, got rank %d", w.Rank())
	}
	rows, cols := w.Dim(0), w.Dim(1)
	if cols%c.GroupSize != 0 {
		return nil, fmt.Errorf("quant: cols %d not divisible by group size %d", cols, c.GroupSize)
	}

	groups := cols / c.GroupSize
	qw := &Weight{
		Rows:      rows,
		Cols:      cols,
		GroupSize: c.GroupSize,
		Packed:    make([]uint32, rows*cols/8),
		ScaleBias: make([]uint32, rows*groups),
	}

	for i := 0; i < rows; i++ {
		row := w.Row(i)
		for g := 0; g < groups; g++ {
			grp := row[g*c.GroupSize : (g+1)*c.GroupSize]
			minV, maxV := grp[0], grp[0]
			for _, v := range grp[1:] {
				if v < minV {
					minV = v
				}
				if v > maxV {
					maxV = v
				}
			}
			// Quantize against the bfloat16-rounded scale/bias so the
			// reconstruction error stays within one quantization step.
			scale := bf16Round((maxV - minV) / levels)
			bias := bf16Round(minV)
			qw.ScaleBias[i*groups+g] = packScaleBias(scale, bias)

			for k, v := range grp {
				col := g*c.GroupSize + k
				var idx uint32
				if scale != 0 {
					q := math.Round(float64((v - bias) / scale))
					if q < 0 {
						q = 0
					} else if q > levels {
						q = levels
					}
					idx = uint32(q)
				}
				word := &qw.Packed[(i*cols+col)/8]
				*word |= idx << (uint(col%8) * 4)
			}
		}
	}
	return qw, nil
}

// Decode materializes the full float32 matrix.
func (c *Codec) Decode(qw *Weight) *tensor.Tensor {
	out := tensor.New(qw.Rows, qw.Cols)
	for i := 0; i < qw.Rows; i++ {
		c.decodeRowInto(qw, i, out.Row(i))
	}
	return out
}

// DecodeRows materializes only the selected rows, in the order given.
// Used for embedding lookup so the vocabulary matrix is never fully
// materialized.
func (c *Codec) DecodeRows(qw *Weight, rows []int) (*tensor.Tensor, error) {
	out := tensor.New(len(rows), qw.Cols)
	for n, r := range rows {
		if r < 0 || r >= qw.Rows {
			return nil, fmt.Errorf("quant: row index %d out of range [0,%d)", r, qw.Rows)
		}
		c.decodeRowInto(qw, r, out.Row(n))
	}
	return out, nil
}

func (c *Codec) decodeRowInto(qw *Weight, row int, dst []float32) {
	groups := qw.Cols / qw.GroupSize
	for g := 0; g < groups; g++ {
		scale, bias := unpackScaleBias(qw.ScaleBias[row*groups+g])
		for k := 0; k < qw.GroupSize; k++ {
			col := g*qw.GroupSize + k
			word := qw.Packed[(row*qw.Cols+col)/8]
			idx := (word >> (uint(col%8) * 4)) & 0xF
			dst[col] = float32(idx)*scale + bias
		}
	}
}

// MaxGroupScale returns the largest group scale in the weight. Useful
// as a whole-matrix error bound: reconstruction error never exceeds
// one scale step of the element's own group.
func (qw *Weight) MaxGroupScale() float32 {
	var maxScale float32
	for _, sb := range qw.ScaleBias {
		s, _ := unpackScaleBias(sb)
		if s > maxScale {
			maxScale = s
		}
	}
	return maxScale
}

// GroupScale returns the decoded scale for (row, col)'s group.
func (qw *Weight) GroupScale(row, col int) float32 {
	groups := qw.Cols / qw.GroupSize
	s, _ := unpackScaleBias(qw.ScaleBias[row*groups+col/qw.GroupSize])
	return s
}
