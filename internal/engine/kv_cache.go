package engine

import (
	"fmt"

	"github.com/23skdu/longbow-neox/internal/metrics"
	"github.com/23skdu/longbow-neox/internal/tensor"
)

// SequenceCache holds the per-layer key and value history for one
// sequence. Entries are append-only; positions already written are
// never mutated. A cache belongs to exactly one sequence and is not
// safe for concurrent use.
type SequenceCache struct {
	layers  int
	heads   int
	headDim int
	kvDim   int // heads * headDim

	k [][]float32 // per layer, (tokens, kvDim) row-major
	v [][]float32
}

// NewSequenceCache returns an empty cache for a model with the given
// geometry.
func NewSequenceCache(layers, heads, headDim int) *SequenceCache {
	c := &SequenceCache{
		layers:  layers,
		heads:   heads,
		headDim: headDim,
		kvDim:   heads * headDim,
		k:       make([][]float32, layers),
		v:       make([][]float32, layers),
	}
	return c
}

// Layers reports the number of layers the cache was built for.
func (c *SequenceCache) Layers() int { return c.layers }

// Len reports the number of cached token positions. All layers hold
// the same count once a full forward step has completed.
func (c *SequenceCache) Len() int {
	if c.layers == 0 {
		return 0
	}
	return len(c.k[0]) / c.kvDim
}

// LayerLen reports the cached position count for one layer.
func (c *SequenceCache) LayerLen(layer int) int {
	return len(c.k[layer]) / c.kvDim
}

// Append adds the rotated keys and values for new positions to one
// layer. Both tensors are (n, heads, headDim); their rows are copied,
// so callers may reuse the backing storage.
func (c *SequenceCache) Append(layer int, k, v *tensor.Tensor) error {
	if layer < 0 || layer >= c.layers {
		return fmt.Errorf("kv cache: layer %d out of range 0..%d", layer, c.layers-1)
	}
	if k.Rank() != 3 || v.Rank() != 3 {
		return fmt.Errorf("kv cache: expected rank-3 k/v, got %d and %d", k.Rank(), v.Rank())
	}
	n := k.Dim(0)
	if v.Dim(0) != n {
		return fmt.Errorf("kv cache: k has %d rows, v has %d", n, v.Dim(0))
	}
	if k.Dim(1) != c.heads || k.Dim(2) != c.headDim {
		return fmt.Errorf("kv cache: k shape (%d,%d) does not match cache (%d,%d)",
			k.Dim(1), k.Dim(2), c.heads, c.headDim)
	}
	c.k[layer] = append(c.k[layer], k.Data()...)
	c.v[layer] = append(c.v[layer], v.Data()...)
	if layer == c.layers-1 {
		metrics.RecordKVCacheBytes(c.Bytes())
	}
	return nil
}

// View returns the first n cached positions of one layer as
// (n, heads, headDim) tensors aliasing the cache storage. No copy is
// made; callers must not write through the views.
func (c *SequenceCache) View(layer, n int) (k, v *tensor.Tensor, err error) {
	if layer < 0 || layer >= c.layers {
		return nil, nil, fmt.Errorf("kv cache: layer %d out of range 0..%d", layer, c.layers-1)
	}
	if have := c.LayerLen(layer); n < 0 || n > have {
		return nil, nil, fmt.Errorf("kv cache: requested %d positions, layer %d holds %d", n, layer, have)
	}
	k = tensor.FromSlice(c.k[layer][:n*c.kvDim], n, c.heads, c.headDim)
	v = tensor.FromSlice(c.v[layer][:n*c.kvDim], n, c.heads, c.headDim)
	return k, v, nil
}

// Bytes reports the total size of the cached keys and values.
func (c *SequenceCache) Bytes() int64 {
	var total int64
	for i := range c.k {
		total += int64(len(c.k[i])+len(c.v[i])) * 4
	}
	return total
}
