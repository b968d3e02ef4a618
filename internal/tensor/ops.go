package tensor

import (
	"fmt"
	"math"
)

// Linear computes x W^T + b for x of shape (n, in) and W of shape
// (out, in). b may be nil. Result shape is (n, out).
func Linear(x, w *Tensor, b []float32) *Tensor {
	n, in := x.Dim(0), x.Dim(1)
	out, win := w.Dim(0), w.Dim(1)
	if in != win {
		panic(fmt.Sprintf("tensor: linear shape mismatch (%d,%d) x (%d,%d)", n, in, out, win))
	}
	if b != nil && len(b) != out {
		panic(fmt.Sprintf("tensor: bias length %d, want %d", len(b), out))
	}
	y := New(n, out)
	for i := 0; i < n; i++ {
		xr := x.Row(i)
		yr := y.Row(i)
		for j := 0; j < out; j++ {
			wr := w.Row(j)
			var sum float32
			for k := 0; k < in; k++ {
				sum += xr[k] * wr[k]
			}
			if b != nil {
				sum += b[j]
			}
			yr[j] = sum
		}
	}
	return y
}

// SoftmaxRows applies a numerically stable softmax to each row of a
// rank-2 tensor, in place. Rows are shifted by their max before
// exponentiation.
func SoftmaxRows(t *Tensor) {
	rows := t.Dim(0)
	for i := 0; i < rows; i++ {
		SoftmaxInPlace(t.Row(i))
	}
}

// SoftmaxInPlace normalizes a single row in place.
func SoftmaxInPlace(row []float32) {
	maxV := row[0]
	for _, v := range row[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range row {
		e := math.Exp(float64(v - maxV))
		row[i] = float32(e)
		sum += e
	}
	inv := float32(1.0 / sum)
	for i := range row {
		row[i] *= inv
	}
}

// LayerNorm normalizes each row of x to zero mean and unit variance,
// then scales by gamma and shifts by beta.
func LayerNorm(x *Tensor, gamma, beta []float32, eps float32) *Tensor {
	rows, dim := x.Dim(0), x.Dim(1)
	if len(gamma) != dim || len(beta) != dim {
		panic(fmt.Sprintf("tensor: layernorm params %d/%d, want %d", len(gamma), len(beta), dim))
	}
	y := New(rows, dim)
	for i := 0; i < rows; i++ {
		xr := x.Row(i)
		yr := y.Row(i)
		var mean float64
		for _, v := range xr {
			mean += float64(v)
		}
		mean /= float64(dim)
		var variance float64
		for _, v := range xr {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(dim)
		inv := 1.0 / math.Sqrt(variance+float64(eps))
		for j, v := range xr {
			yr[j] = float32((float64(v)-mean)*inv)*gamma[j] + beta[j]
		}
	}
	return y
}

// GELU applies the exact Gaussian error linear unit, in place.
func GELU(t *Tensor) *Tensor {
	for i, v := range t.data {
		t.data[i] = float32(0.5 * float64(v) * (1.0 + math.Erf(float64(v)/math.Sqrt2)))
	}
	return t
}

// Add accumulates b into a elementwise, in place on a.
func Add(a, b *Tensor) *Tensor {
	if len(a.data) != len(b.data) {
		panic(fmt.Sprintf("tensor: add size mismatch %d vs %d", len(a.data), len(b.data)))
	}
	for i := range a.data {
		a.data[i] += b.data[i]
	}
	return a
}

// ArgMax returns the index of the largest value. NaN entries are
// skipped so a stray NaN cannot win the comparison.
func ArgMax(row []float32) int {
	best := -1
	var bestV float32
	for i, v := range row {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > bestV {
			best = i
			bestV = v
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// HasNaNOrInf reports whether any element is NaN or infinite.
func HasNaNOrInf(row []float32) bool {
	for _, v := range row {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
