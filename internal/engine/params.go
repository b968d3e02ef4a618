package engine

import (
	"fmt"

	"github.com/23skdu/longbow-neox/internal/config"
)

// ParamKind distinguishes how a parameter is stored on disk and in
// memory.
type ParamKind int

const (
	// KindFloat32 parameters ship as one flat float32 buffer.
	KindFloat32 ParamKind = iota
	// KindQuantized parameters ship as two uint32 buffers: packed
	// 4-bit indices followed by the scale/bias pairs.
	KindQuantized
)

// ParamSpec names one model parameter, its storage kind, and its
// logical shape.
type ParamSpec struct {
	Name  string
	Kind  ParamKind
	Shape []int
}

// Buffers reports how many on-disk buffers the parameter occupies.
func (p ParamSpec) Buffers() int {
	if p.Kind == KindQuantized {
		return 2
	}
	return 1
}

// Elements reports the logical element count.
func (p ParamSpec) Elements() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// ParamSpecs declares every model parameter in checkpoint order. The
// order is part of the on-disk format: buffers are numbered by walking
// this list, so it must never be reordered.
func ParamSpecs(cfg config.Config) []ParamSpec {
	h := cfg.HiddenSize
	inter := cfg.IntermediateSize

	specs := make([]ParamSpec, 0, cfg.Layers*16+4)
	specs = append(specs, ParamSpec{"gpt_neox.embed_in.weight", KindQuantized, []int{cfg.VocabSize, h}})
	for i := 0; i < cfg.Layers; i++ {
		p := fmt.Sprintf("gpt_neox.layers.%d.", i)
		specs = append(specs,
			ParamSpec{p + "input_layernorm.weight", KindFloat32, []int{h}},
			ParamSpec{p + "input_layernorm.bias", KindFloat32, []int{h}},
			ParamSpec{p + "post_attention_layernorm.weight", KindFloat32, []int{h}},
			ParamSpec{p + "post_attention_layernorm.bias", KindFloat32, []int{h}},
			ParamSpec{p + "attention.q_proj.weight", KindQuantized, []int{h, h}},
			ParamSpec{p + "attention.q_proj.bias", KindFloat32, []int{h}},
			ParamSpec{p + "attention.k_proj.weight", KindQuantized, []int{h, h}},
			ParamSpec{p + "attention.k_proj.bias", KindFloat32, []int{h}},
			ParamSpec{p + "attention.v_proj.weight", KindQuantized, []int{h, h}},
			ParamSpec{p + "attention.v_proj.bias", KindFloat32, []int{h}},
			ParamSpec{p + "attention.dense.weight", KindQuantized, []int{h, h}},
			ParamSpec{p + "attention.dense.bias", KindFloat32, []int{h}},
			ParamSpec{p + "mlp.dense_h_to_4h.weight", KindQuantized, []int{inter, h}},
			ParamSpec{p + "mlp.dense_h_to_4h.bias", KindFloat32, []int{inter}},
			ParamSpec{p + "mlp.dense_4h_to_h.weight", KindQuantized, []int{h, inter}},
			ParamSpec{p + "mlp.dense_4h_to_h.bias", KindFloat32, []int{h}},
		)
	}
	specs = append(specs,
		ParamSpec{"gpt_neox.final_layer_norm.weight", KindFloat32, []int{h}},
		ParamSpec{"gpt_neox.final_layer_norm.bias", KindFloat32, []int{h}},
		ParamSpec{"embed_out.weight", KindQuantized, []int{cfg.VocabSize, h}},
	)
	return specs
}
