// Package results accumulates measurement records and serializes them as an
// Apache Arrow record, CSV or plain text lines.
package results

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Record is one measured sweep configuration. Records are values and are
// never modified after being appended to a Table.
type Record struct {
	BatchSize  int
	MatrixSize int
	DType      string
	Transpose  string
	// Time is seconds for the footprint layout and average milliseconds per
	// primitive call for the latency layout.
	Time float64
	// Memory is the peak resident memory in GB.
	Memory    float64
	HasMemory bool
}

// Layout fixes the column schema of a Table.
type Layout int

const (
	// FootprintLayout is [batch_size, tensor_shape, time, memory].
	FootprintLayout Layout = iota
	// LatencyLayout is [batch_size, matrix_size, dtype, time].
	LatencyLayout
)

var (
	footprintSchema = arrow.NewSchema([]arrow.Field{
		{Name: "batch_size", Type: arrow.PrimitiveTypes.Int64},
		{Name: "tensor_shape", Type: arrow.PrimitiveTypes.Int64},
		{Name: "time", Type: arrow.PrimitiveTypes.Float64},
		{Name: "memory", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	latencySchema = arrow.NewSchema([]arrow.Field{
		{Name: "batch_size", Type: arrow.PrimitiveTypes.Int64},
		{Name: "matrix_size", Type: arrow.PrimitiveTypes.Int64},
		{Name: "dtype", Type: arrow.BinaryTypes.String},
		{Name: "time", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
)

func (l Layout) Schema() *arrow.Schema {
	if l == LatencyLayout {
		return latencySchema
	}
	return footprintSchema
}

func (l Layout) Columns() []string {
	fields := l.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func (l Layout) appendRow(b *array.RecordBuilder, r Record) {
	b.Field(0).(*array.Int64Builder).Append(int64(r.BatchSize))
	b.Field(1).(*array.Int64Builder).Append(int64(r.MatrixSize))
	if l == LatencyLayout {
		b.Field(2).(*array.StringBuilder).Append(r.DType)
		b.Field(3).(*array.Float64Builder).Append(r.Time)
		return
	}
	b.Field(2).(*array.Float64Builder).Append(r.Time)
	mem := b.Field(3).(*array.Float64Builder)
	if r.HasMemory {
		mem.Append(r.Memory)
	} else {
		mem.AppendNull()
	}
}

// Line formats r the way the latency benchmark prints it.
func (l Layout) Line(r Record) string {
	if l == LatencyLayout {
		return fmt.Sprintf("%3d, %4d, %s, %v", r.BatchSize, r.MatrixSize, r.DType, r.Time)
	}
	return fmt.Sprintf("%3d, %4d, %v, %v", r.BatchSize, r.MatrixSize, r.Time, r.Memory)
}

// Table is the ordered sequence of records produced by one sweep.
type Table struct {
	layout Layout
	rows   []Record
}

func NewTable(layout Layout) *Table {
	return &Table{layout: layout}
}

func (t *Table) Layout() Layout { return t.layout }

func (t *Table) Append(r Record) {
	t.rows = append(t.rows, r)
}

func (t *Table) Len() int { return len(t.rows) }

// Rows returns a copy of the records in insertion order.
func (t *Table) Rows() []Record {
	out := make([]Record, len(t.rows))
	copy(out, t.rows)
	return out
}

func (t *Table) Columns() []string {
	return t.layout.Columns()
}

// Arrow builds an Arrow record holding every row. The caller must Release it.
func (t *Table) Arrow(mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, t.layout.Schema())
	defer b.Release()
	for _, r := range t.rows {
		t.layout.appendRow(b, r)
	}
	return b.NewRecord()
}

// WriteCSV writes a header row followed by one line per record. There is no
// index column.
func (t *Table) WriteCSV(w io.Writer) error {
	rec := t.Arrow(memory.DefaultAllocator)
	defer rec.Release()

	cw := csv.NewWriter(w, t.layout.Schema(), csv.WithHeader(true), csv.WithComma(','))
	if err := cw.Write(rec); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if err := cw.Flush(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return cw.Error()
}

// SaveCSV writes the table to path, replacing any existing file.
func (t *Table) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// PrintLines writes one formatted line per record.
func (t *Table) PrintLines(w io.Writer) error {
	for _, r := range t.rows {
		if _, err := fmt.Fprintln(w, t.layout.Line(r)); err != nil {
			return err
		}
	}
	return nil
}
