package arrow_client

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestBuildTraceRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	batch := []StepTrace{
		{Step: 1, TokenID: 42, Logits: []float32{0.1, 0.2, 0.3}},
		{Step: 2, TokenID: 7, Logits: []float32{0.4, 0.5, 0.6}},
	}
	rec := BuildTraceRecord(mem, batch)
	defer rec.Release()

	if !rec.Schema().Equal(TraceSchema) {
		t.Fatalf("schema %v", rec.Schema())
	}
	if rec.NumRows() != 2 {
		t.Fatalf("rows %d, want 2", rec.NumRows())
	}

	steps := rec.Column(0).(*array.Int64)
	tokens := rec.Column(1).(*array.Int64)
	if steps.Value(0) != 1 || steps.Value(1) != 2 {
		t.Fatalf("steps %v", steps)
	}
	if tokens.Value(1) != 7 {
		t.Fatalf("tokens %v", tokens)
	}

	logits := rec.Column(2).(*array.List)
	values := logits.ListValues().(*array.Float32)
	if values.Len() != 6 {
		t.Fatalf("flattened logits length %d, want 6", values.Len())
	}
	if values.Value(3) != 0.4 {
		t.Fatalf("second row starts with %v, want 0.4", values.Value(3))
	}
}

func TestMockPublisherRecordsSteps(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	if err := m.PublishStep(ctx, 1, 5, []float32{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := m.PublishStep(ctx, 2, 6, []float32{3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatal(err)
	}

	if len(m.Steps) != 2 || m.Steps[1].TokenID != 6 {
		t.Fatalf("steps %+v", m.Steps)
	}
	if m.Flushes != 1 || !m.Closed {
		t.Fatalf("flushes=%d closed=%v", m.Flushes, m.Closed)
	}
}

func TestPublisherBatchCopiesLogits(t *testing.T) {
	m := NewMockPublisher()
	logits := []float32{1, 2, 3}
	if err := m.PublishStep(context.Background(), 1, 0, logits); err != nil {
		t.Fatal(err)
	}
	logits[0] = 99
	if m.Steps[0].Logits[0] != 1 {
		t.Fatal("publisher aliased caller's logits slice")
	}
}
