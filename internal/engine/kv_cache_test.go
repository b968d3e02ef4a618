package engine

import (
	"testing"

	"github.com/23skdu/longbow-neox/internal/tensor"
)

func fillSeq(t *tensor.Tensor, base float32) {
	for i := range t.Data() {
		t.Data()[i] = base + float32(i)
	}
}

func TestCacheAppendAndView(t *testing.T) {
	c := NewSequenceCache(2, 2, 4)
	if c.Len() != 0 {
		t.Fatalf("fresh cache reports %d positions", c.Len())
	}

	k := tensor.New(3, 2, 4)
	v := tensor.New(3, 2, 4)
	fillSeq(k, 100)
	fillSeq(v, 200)
	for layer := 0; layer < 2; layer++ {
		if err := c.Append(layer, k, v); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("cache length %d after 3-row append, want 3", c.Len())
	}

	kv, vv, err := c.View(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if kv.Dim(0) != 2 || kv.Dim(1) != 2 || kv.Dim(2) != 4 {
		t.Fatalf("view shape %v", kv.Shape())
	}
	if kv.Data()[0] != 100 || vv.Data()[0] != 200 {
		t.Fatalf("view returned wrong rows: k=%v v=%v", kv.Data()[0], vv.Data()[0])
	}
}

func TestCacheAppendExtendsExisting(t *testing.T) {
	c := NewSequenceCache(1, 1, 4)
	k1 := tensor.New(2, 1, 4)
	v1 := tensor.New(2, 1, 4)
	fillSeq(k1, 0)
	fillSeq(v1, 0)
	if err := c.Append(0, k1, v1); err != nil {
		t.Fatal(err)
	}
	k2 := tensor.New(1, 1, 4)
	v2 := tensor.New(1, 1, 4)
	fillSeq(k2, 50)
	fillSeq(v2, 50)
	if err := c.Append(0, k2, v2); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 3 {
		t.Fatalf("cache length %d, want 3", c.Len())
	}
	kv, _, err := c.View(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := kv.Row(2)[0]; got != 50 {
		t.Fatalf("appended row starts with %v, want 50", got)
	}
}

func TestCacheViewRejectsOverRead(t *testing.T) {
	c := NewSequenceCache(1, 1, 4)
	k := tensor.New(1, 1, 4)
	v := tensor.New(1, 1, 4)
	if err := c.Append(0, k, v); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.View(0, 2); err == nil {
		t.Fatal("expected error viewing past cached length")
	}
	if _, _, err := c.View(1, 0); err == nil {
		t.Fatal("expected error for layer out of range")
	}
}

func TestCacheAppendValidatesShape(t *testing.T) {
	c := NewSequenceCache(1, 2, 4)
	k := tensor.New(1, 2, 8)
	v := tensor.New(1, 2, 8)
	if err := c.Append(0, k, v); err == nil {
		t.Fatal("expected head-dim mismatch error")
	}
	if err := c.Append(5, k, v); err == nil {
		t.Fatal("expected layer range error")
	}
}

func TestCacheBytes(t *testing.T) {
	c := NewSequenceCache(2, 2, 4)
	k := tensor.New(2, 2, 4)
	v := tensor.New(2, 2, 4)
	for layer := 0; layer < 2; layer++ {
		if err := c.Append(layer, k, v); err != nil {
			t.Fatal(err)
		}
	}
	// 2 layers * 2 tensors * 2 rows * 8 values * 4 bytes
	if got := c.Bytes(); got != 2*2*2*8*4 {
		t.Fatalf("Bytes() = %d", got)
	}
}
