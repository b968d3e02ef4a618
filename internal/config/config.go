// Package config holds the model hyperparameters and the named
// presets for the supported GPT-NeoX checkpoints.
package config

import (
	"fmt"
	"strings"
)

// Config describes one GPT-NeoX model. All fields are fixed at model
// construction; anything invalid is a configuration error and fatal
// before the first request.
type Config struct {
	Name string

	HiddenSize       int
	IntermediateSize int
	Layers           int
	Heads            int
	VocabSize        int
	MaxSeqLen        int

	Eps        float32
	RotaryBase float32
	RotaryPct  float32

	// GroupSize is the quantization group width for all 2-D weights.
	GroupSize int

	// StopTokens are the reserved ids that terminate generation.
	StopTokens []int
}

// HeadDim returns the per-head width.
func (c *Config) HeadDim() int {
	return c.HiddenSize / c.Heads
}

// RotaryDim returns the even number of leading head dimensions the
// rotary embedding covers.
func (c *Config) RotaryDim() int {
	d := int(float64(c.HeadDim()) * float64(c.RotaryPct))
	return d - d%2
}

func (c *Config) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("invalid hidden_size: %d (must be positive)", c.HiddenSize)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", c.Layers)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", c.Heads)
	}
	if c.HiddenSize%c.Heads != 0 {
		return fmt.Errorf("hidden_size %d not divisible by heads %d", c.HiddenSize, c.Heads)
	}
	if c.IntermediateSize <= 0 {
		return fmt.Errorf("invalid intermediate_size: %d (must be positive)", c.IntermediateSize)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("invalid max_seq_len: %d (must be positive)", c.MaxSeqLen)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("invalid eps: %f (must be positive)", c.Eps)
	}
	if c.RotaryBase <= 0 {
		return fmt.Errorf("invalid rotary_base: %f (must be positive)", c.RotaryBase)
	}
	if c.RotaryPct <= 0 || c.RotaryPct > 1 {
		return fmt.Errorf("invalid rotary_pct: %f (must be in (0,1])", c.RotaryPct)
	}
	if c.GroupSize <= 0 || c.GroupSize%8 != 0 {
		return fmt.Errorf("invalid group_size: %d (must be a positive multiple of 8)", c.GroupSize)
	}
	// Every quantized matrix has cols == HiddenSize or IntermediateSize,
	// so both must divide by the group width.
	if c.HiddenSize%c.GroupSize != 0 {
		return fmt.Errorf("hidden_size %d not divisible by group_size %d", c.HiddenSize, c.GroupSize)
	}
	if c.IntermediateSize%c.GroupSize != 0 {
		return fmt.Errorf("intermediate_size %d not divisible by group_size %d", c.IntermediateSize, c.GroupSize)
	}
	if c.RotaryDim() == 0 {
		return fmt.Errorf("rotary_pct %f yields zero rotary dimensions for head_dim %d", c.RotaryPct, c.HeadDim())
	}
	return nil
}

func base() Config {
	return Config{
		Eps:        1e-5,
		MaxSeqLen:  2048,
		RotaryBase: 10000,
		RotaryPct:  0.25,
		VocabSize:  50280,
		GroupSize:  32,
		StopTokens: []int{0}, // <|endoftext|>
	}
}

// DollyV2_3B returns the dolly-v2-3b hyperparameters.
func DollyV2_3B() Config {
	c := base()
	c.Name = "dolly-v2-3b"
	c.HiddenSize = 2560
	c.IntermediateSize = 10240
	c.Heads = 32
	c.Layers = 32
	return c
}

// DollyV2_7B returns the dolly-v2-7b hyperparameters.
func DollyV2_7B() Config {
	c := base()
	c.Name = "dolly-v2-7b"
	c.HiddenSize = 4096
	c.IntermediateSize = 16384
	c.Heads = 32
	c.Layers = 32
	return c
}

// DollyV2_12B returns the dolly-v2-12b hyperparameters.
func DollyV2_12B() Config {
	c := base()
	c.Name = "dolly-v2-12b"
	c.HiddenSize = 5120
	c.IntermediateSize = 20480
	c.Heads = 40
	c.Layers = 36
	return c
}

// Preset resolves a model name to its configuration. Unknown names
// are a configuration error.
func Preset(name string) (Config, error) {
	switch strings.ToLower(name) {
	case "dolly-v2-3b":
		return DollyV2_3B(), nil
	case "dolly-v2-7b":
		return DollyV2_7B(), nil
	case "dolly-v2-12b":
		return DollyV2_12B(), nil
	}
	return Config{}, fmt.Errorf("unsupported model family: %q", name)
}
