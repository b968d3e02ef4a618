package engine

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-neox/internal/tensor"
)

// Attention is causal multi-head self-attention for one layer. Keys
// and values always round-trip through the sequence cache: the step's
// own k/v rows are appended first and attention reads them back, so
// the cache is the single source of truth for history.
type Attention struct {
	QProj *Linear
	KProj *Linear
	VProj *Linear
	Dense *Linear

	rope    *RotaryTable
	layer   int
	heads   int
	headDim int
}

func NewAttention(q, k, v, dense *Linear, rope *RotaryTable, layer, heads, headDim int) *Attention {
	return &Attention{
		QProj: q, KProj: k, VProj: v, Dense: dense,
		rope: rope, layer: layer, heads: heads, headDim: headDim,
	}
}

// Forward runs attention over hidden (seq, hiddenSize). totalLen is
// the absolute sequence length after this step, so the step's rows
// occupy positions totalLen-seq .. totalLen-1. A query at position i
// attends to cached positions j <= i only.
func (a *Attention) Forward(hidden *tensor.Tensor, totalLen int, cache *SequenceCache) (*tensor.Tensor, error) {
	seq := hidden.Dim(0)
	offset := totalLen - seq
	if got := cache.LayerLen(a.layer); got != offset {
		return nil, fmt.Errorf("attention: layer %d cache holds %d positions, want %d", a.layer, got, offset)
	}

	q := a.QProj.Forward(hidden).Reshape(seq, a.heads, a.headDim)
	k := a.KProj.Forward(hidden).Reshape(seq, a.heads, a.headDim)
	v := a.VProj.Forward(hidden).Reshape(seq, a.heads, a.headDim)

	if err := a.rope.Apply(q, k, offset); err != nil {
		return nil, err
	}
	if err := cache.Append(a.layer, k, v); err != nil {
		return nil, err
	}
	kAll, vAll, err := cache.View(a.layer, totalLen)
	if err != nil {
		return nil, err
	}

	scale := float32(1.0 / math.Sqrt(float64(a.headDim)))
	out := tensor.New(seq, a.heads*a.headDim)
	scores := make([]float32, totalLen)

	for h := 0; h < a.heads; h++ {
		hlo := h * a.headDim
		for i := 0; i < seq; i++ {
			qRow := q.Row(i)[hlo : hlo+a.headDim]
			for j := 0; j < totalLen; j++ {
				if j > offset+i {
					scores[j] = -math.MaxFloat32
					continue
				}
				kRow := kAll.Row(j)[hlo : hlo+a.headDim]
				var dot float32
				for d := 0; d < a.headDim; d++ {
					dot += qRow[d] * kRow[d]
				}
				scores[j] = dot * scale
			}
			tensor.SoftmaxInPlace(scores)
			oRow := out.Row(i)[hlo : hlo+a.headDim]
			for j := 0; j < totalLen; j++ {
				w := scores[j]
				if w == 0 {
					continue
				}
				vRow := vAll.Row(j)[hlo : hlo+a.headDim]
				for d := 0; d < a.headDim; d++ {
					oRow[d] += w * vRow[d]
				}
			}
		}
	}
	return a.Dense.Forward(out), nil
}
