package engine

import (
	"github.com/23skdu/longbow-neox/internal/tensor"
)

// Module is a stateless forward transform over a (rows, features)
// activation tensor. Attention lives outside this interface because it
// also threads position state and the sequence cache.
type Module interface {
	Forward(x *tensor.Tensor) *tensor.Tensor
}

// Linear is a dense projection y = x W^T + b. The weight is stored
// (outFeatures, inFeatures); bias may be nil.
type Linear struct {
	w *tensor.Tensor
	b []float32
}

func NewLinear(w *tensor.Tensor, b []float32) *Linear {
	return &Linear{w: w, b: b}
}

func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Linear(x, l.w, l.b)
}

// OutFeatures reports the projection's output width.
func (l *Linear) OutFeatures() int { return l.w.Dim(0) }

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies a learned scale and shift.
type LayerNorm struct {
	w   []float32
	b   []float32
	eps float32
}

func NewLayerNorm(w, b []float32, eps float32) *LayerNorm {
	return &LayerNorm{w: w, b: b, eps: eps}
}

func (n *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.LayerNorm(x, n.w, n.b, n.eps)
}

// MLP is the two-projection feed-forward path with an exact GELU
// between the expansion and the contraction.
type MLP struct {
	Up   *Linear
	Down *Linear
}

func (m *MLP) Forward(x *tensor.Tensor) *tensor.Tensor {
	return m.Down.Forward(tensor.GELU(m.Up.Forward(x)))
}

var (
	_ Module = (*Linear)(nil)
	_ Module = (*LayerNorm)(nil)
	_ Module = (*MLP)(nil)
)

// Block is one decoder layer. Attention and MLP read independently
// normalized copies of the input and their outputs join the residual
// stream together:
//
//	out = x + attn(ln_in(x)) + mlp(ln_post(x))
type Block struct {
	InputNorm    *LayerNorm
	PostAttnNorm *LayerNorm
	Attn         *Attention
	MLP          *MLP
}

func (b *Block) Forward(x *tensor.Tensor, totalLen int, cache *SequenceCache) (*tensor.Tensor, error) {
	attnOut, err := b.Attn.Forward(b.InputNorm.Forward(x), totalLen, cache)
	if err != nil {
		return nil, err
	}
	mlpOut := b.MLP.Forward(b.PostAttnNorm.Forward(x))
	tensor.Add(attnOut, mlpOut)
	tensor.Add(attnOut, x)
	return attnOut, nil
}
