// Package arrow_client ships per-step decoding traces to an Arrow
// Flight endpoint. Each flushed batch is one record with the step
// index, sampled token id and the full logits row, so downstream
// tooling can replay or diff generation runs.
package arrow_client

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-neox/internal/logger"
)

// StepTrace is one decode step's record.
type StepTrace struct {
	Step    int
	TokenID int
	Logits  []float32
}

// Publisher is the trace sink contract. FlightPublisher talks to a
// real server; MockPublisher records in memory for tests.
type Publisher interface {
	PublishStep(ctx context.Context, step, tokenID int, logits []float32) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// TraceSchema is the wire schema for step batches.
var TraceSchema = arrow.NewSchema([]arrow.Field{
	{Name: "step", Type: arrow.PrimitiveTypes.Int64},
	{Name: "token_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "logits", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
}, nil)

// FlightPublisher batches steps and sends each batch over one DoPut
// stream. Safe for a single generation loop; not for concurrent
// sequences.
type FlightPublisher struct {
	mu        sync.Mutex
	conn      *grpc.ClientConn
	client    flight.Client
	path      []string
	batch     []StepTrace
	batchSize int
	mem       memory.Allocator
}

// NewFlightPublisher dials addr and tags all batches with the given
// sequence name as the flight descriptor path.
func NewFlightPublisher(addr, sequence string, batchSize int) (*FlightPublisher, error) {
	if batchSize <= 0 {
		batchSize = 32
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("arrow client: dial %s: %w", addr, err)
	}
	return &FlightPublisher{
		conn:      conn,
		client:    flight.NewClientFromConn(conn, nil),
		path:      []string{"traces", sequence},
		batchSize: batchSize,
		mem:       memory.DefaultAllocator,
	}, nil
}

// PublishStep queues one step, flushing when the batch fills.
func (p *FlightPublisher) PublishStep(ctx context.Context, step, tokenID int, logits []float32) error {
	p.mu.Lock()
	p.batch = append(p.batch, StepTrace{
		Step:    step,
		TokenID: tokenID,
		Logits:  append([]float32(nil), logits...),
	})
	full := len(p.batch) >= p.batchSize
	p.mu.Unlock()
	if full {
		return p.Flush(ctx)
	}
	return nil
}

// Flush sends any queued steps as one record.
func (p *FlightPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.batch
	p.batch = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	rec := BuildTraceRecord(p.mem, batch)
	defer rec.Release()

	stream, err := p.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("arrow client: DoPut: %w", err)
	}
	wr := flight.NewRecordWriter(stream, ipc.WithSchema(TraceSchema))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: p.path,
	})
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return fmt.Errorf("arrow client: write batch: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("arrow client: close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("arrow client: close stream: %w", err)
	}
	// Drain the server ack; failures here are not worth aborting for.
	if _, err := stream.Recv(); err != nil {
		logger.Debug("arrow client: no put result", "error", err)
	}
	logger.Debug("trace batch sent", "steps", len(batch), "path", p.path)
	return nil
}

// Close flushes queued steps and tears down the connection.
func (p *FlightPublisher) Close(ctx context.Context) error {
	flushErr := p.Flush(ctx)
	if err := p.conn.Close(); err != nil {
		return err
	}
	return flushErr
}

// BuildTraceRecord assembles one Arrow record from queued steps.
func BuildTraceRecord(mem memory.Allocator, batch []StepTrace) arrow.Record {
	b := array.NewRecordBuilder(mem, TraceSchema)
	defer b.Release()

	steps := b.Field(0).(*array.Int64Builder)
	tokens := b.Field(1).(*array.Int64Builder)
	logits := b.Field(2).(*array.ListBuilder)
	values := logits.ValueBuilder().(*array.Float32Builder)

	for _, st := range batch {
		steps.Append(int64(st.Step))
		tokens.Append(int64(st.TokenID))
		logits.Append(true)
		values.AppendValues(st.Logits, nil)
	}
	return b.NewRecord()
}
