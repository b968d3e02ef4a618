package config

import (
	"strings"
	"testing"
)

func TestPresetsValidate(t *testing.T) {
	for _, name := range []string{"dolly-v2-3b", "dolly-v2-7b", "dolly-v2-12b"} {
		cfg, err := Preset(name)
		if err != nil {
			t.Fatalf("Preset(%s): %v", name, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s: Validate failed: %v", name, err)
		}
		if cfg.HiddenSize%cfg.Heads != 0 {
			t.Errorf("%s: head dim not integral", name)
		}
	}
}

func TestPresetUnknown(t *testing.T) {
	if _, err := Preset("gpt-5"); err == nil {
		t.Fatal("expected error for unknown model family")
	}
}

func TestRotaryDimEven(t *testing.T) {
	cfg := DollyV2_3B()
	// head_dim = 2560/32 = 80, pct 0.25 -> 20
	if got := cfg.RotaryDim(); got != 20 {
		t.Errorf("RotaryDim = %d, want 20", got)
	}
	if cfg.RotaryDim()%2 != 0 {
		t.Error("rotary dim must be even")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"zero hidden", func(c *Config) { c.HiddenSize = 0 }, "hidden_size"},
		{"zero layers", func(c *Config) { c.Layers = 0 }, "layers"},
		{"heads indivisible", func(c *Config) { c.Heads = 7 }, "not divisible"},
		{"bad group size", func(c *Config) { c.GroupSize = 12 }, "group_size"},
		{"group does not divide hidden", func(c *Config) { c.GroupSize = 1024 }, "not divisible by group_size"},
		{"bad eps", func(c *Config) { c.Eps = 0 }, "eps"},
		{"bad rotary pct", func(c *Config) { c.RotaryPct = 1.5 }, "rotary_pct"},
		{"zero vocab", func(c *Config) { c.VocabSize = 0 }, "vocab_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DollyV2_3B()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Errorf("error %q does not mention %q", err, tc.substr)
			}
		})
	}
}
