package engine

import (
	"fmt"

	"github.com/23skdu/longbow-neox/internal/config"
	"github.com/23skdu/longbow-neox/internal/logger"
	"github.com/23skdu/longbow-neox/internal/quant"
	"github.com/23skdu/longbow-neox/internal/tensor"
)

// paramValue is one loaded parameter: exactly one of f or q is set,
// matching the spec's kind.
type paramValue struct {
	f *tensor.Tensor
	q *quant.Weight
}

// Model is a GPT-NeoX decoder stack assembled from a loaded parameter
// table. Projections are dequantized once at assembly; only the two
// embedding matrices stay packed and are decoded row by row.
type Model struct {
	cfg   config.Config
	codec *quant.Codec
	rope  *RotaryTable

	embedIn   *quant.Weight
	blocks    []*Block
	finalNorm *LayerNorm
	embedOut  *Linear
}

// NewModel assembles a model from cfg and a parameter map keyed by the
// names in ParamSpecs. Missing or wrongly shaped parameters are
// reported by name.
func NewModel(cfg config.Config, params map[string]paramValue) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := quant.NewCodec(cfg.GroupSize)
	if err != nil {
		return nil, err
	}
	m := &Model{
		cfg:   cfg,
		codec: codec,
		rope:  NewRotaryTable(cfg),
	}

	get := &paramGetter{params: params}
	m.embedIn = get.quantized("gpt_neox.embed_in.weight")

	m.blocks = make([]*Block, cfg.Layers)
	headDim := cfg.HeadDim()
	for i := 0; i < cfg.Layers; i++ {
		p := fmt.Sprintf("gpt_neox.layers.%d.", i)
		attn := NewAttention(
			get.linear(codec, p+"attention.q_proj.weight", p+"attention.q_proj.bias"),
			get.linear(codec, p+"attention.k_proj.weight", p+"attention.k_proj.bias"),
			get.linear(codec, p+"attention.v_proj.weight", p+"attention.v_proj.bias"),
			get.linear(codec, p+"attention.dense.weight", p+"attention.dense.bias"),
			m.rope, i, cfg.Heads, headDim,
		)
		m.blocks[i] = &Block{
			InputNorm:    get.layerNorm(p+"input_layernorm.weight", p+"input_layernorm.bias", cfg.Eps),
			PostAttnNorm: get.layerNorm(p+"post_attention_layernorm.weight", p+"post_attention_layernorm.bias", cfg.Eps),
			Attn:         attn,
			MLP: &MLP{
				Up:   get.linear(codec, p+"mlp.dense_h_to_4h.weight", p+"mlp.dense_h_to_4h.bias"),
				Down: get.linear(codec, p+"mlp.dense_4h_to_h.weight", p+"mlp.dense_4h_to_h.bias"),
			},
		}
	}
	m.finalNorm = get.layerNorm("gpt_neox.final_layer_norm.weight", "gpt_neox.final_layer_norm.bias", cfg.Eps)
	m.embedOut = NewLinear(codec.Decode(get.quantized("embed_out.weight")), nil)

	if get.err != nil {
		return nil, get.err
	}
	logger.Info("model assembled",
		"name", cfg.Name, "layers", cfg.Layers, "hidden", cfg.HiddenSize, "vocab", cfg.VocabSize)
	return m, nil
}

// paramGetter accumulates the first lookup failure so assembly code
// stays linear.
type paramGetter struct {
	params map[string]paramValue
	err    error
}

func (g *paramGetter) quantized(name string) *quant.Weight {
	v, ok := g.params[name]
	if !ok || v.q == nil {
		if g.err == nil {
			g.err = fmt.Errorf("model: missing quantized parameter %q", name)
		}
		return &quant.Weight{GroupSize: quant.DefaultGroupSize}
	}
	return v.q
}

func (g *paramGetter) float(name string) []float32 {
	v, ok := g.params[name]
	if !ok || v.f == nil {
		if g.err == nil {
			g.err = fmt.Errorf("model: missing parameter %q", name)
		}
		return nil
	}
	return v.f.Data()
}

func (g *paramGetter) linear(codec *quant.Codec, wName, bName string) *Linear {
	qw := g.quantized(wName)
	if g.err != nil {
		return NewLinear(tensor.New(1, codec.GroupSize), nil)
	}
	return NewLinear(codec.Decode(qw), g.float(bName))
}

func (g *paramGetter) layerNorm(wName, bName string, eps float32) *LayerNorm {
	return NewLayerNorm(g.float(wName), g.float(bName), eps)
}

// Config returns the model configuration.
func (m *Model) Config() config.Config { return m.cfg }

// NewCache allocates an empty sequence cache sized for this model.
func (m *Model) NewCache() *SequenceCache {
	return NewSequenceCache(m.cfg.Layers, m.cfg.Heads, m.cfg.HeadDim())
}

// Encoding runs the prefill pass over a fresh sequence. totalLen must
// equal len(ids) and cache must be empty. The returned logits are
// (1, 1, vocab) for the final prompt position only.
func (m *Model) Encoding(ids []int, totalLen int, cache *SequenceCache) (*tensor.Tensor, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("encoding: empty token sequence")
	}
	if totalLen != len(ids) {
		return nil, fmt.Errorf("encoding: totalLen %d does not match %d prompt tokens", totalLen, len(ids))
	}
	if n := cache.Len(); n != 0 {
		return nil, fmt.Errorf("encoding: cache already holds %d positions", n)
	}
	return m.forward(ids, totalLen, cache)
}

// Decoding runs one incremental step: a single token at absolute
// position totalLen-1, with all earlier positions already cached.
func (m *Model) Decoding(id, totalLen int, cache *SequenceCache) (*tensor.Tensor, error) {
	if want := cache.Len() + 1; totalLen != want {
		return nil, fmt.Errorf("decoding: totalLen %d does not extend cache of %d positions", totalLen, cache.Len())
	}
	return m.forward([]int{id}, totalLen, cache)
}

func (m *Model) forward(ids []int, totalLen int, cache *SequenceCache) (*tensor.Tensor, error) {
	if totalLen > m.cfg.MaxSeqLen {
		return nil, fmt.Errorf("forward: total length %d exceeds %d: %w",
			totalLen, m.cfg.MaxSeqLen, ErrSequenceTooLong)
	}
	if cache.Layers() != m.cfg.Layers {
		return nil, fmt.Errorf("forward: cache has %d layers, model has %d", cache.Layers(), m.cfg.Layers)
	}
	for _, id := range ids {
		if id < 0 || id >= m.cfg.VocabSize {
			return nil, fmt.Errorf("forward: token id %d out of vocabulary [0,%d)", id, m.cfg.VocabSize)
		}
	}

	hidden, err := m.codec.DecodeRows(m.embedIn, ids)
	if err != nil {
		return nil, err
	}
	for _, blk := range m.blocks {
		hidden, err = blk.Forward(hidden, totalLen, cache)
		if err != nil {
			return nil, err
		}
	}
	normed := m.finalNorm.Forward(hidden)

	// Only the last position's logits are ever consumed.
	last := tensor.FromSlice(normed.Row(hidden.Dim(0)-1), 1, m.cfg.HiddenSize)
	return m.embedOut.Forward(last).Reshape(1, 1, m.cfg.VocabSize), nil
}
