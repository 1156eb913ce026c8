package main

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/estuary/source-singlestore/observe"
	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"
)

const outputWriteBuffer = 1 * 1024 * 1024 // Amortizes write syscall overhead.

// documentOutput serializes change records as JSON documents, one per line,
// with row fields keyed by column name and stream metadata under '_meta'.
// It implements observe.Dispatcher.
type documentOutput struct {
	columns []string
	buf     *bufio.Writer
	enc     *json.Encoder
	count   int
}

func newDocumentOutput(w io.Writer, columns []string) *documentOutput {
	var buf = bufio.NewWriterSize(w, outputWriteBuffer)
	return &documentOutput{
		columns: columns,
		buf:     buf,
		enc:     json.NewEncoder(buf),
	}
}

// documentMetadata is the '_meta' envelope attached to every document.
type documentMetadata struct {
	Operation  observe.ChangeOp `json:"op"`
	Table      string           `json:"table"`
	Partition  int              `json:"partition"`
	Offset     string           `json:"offset"`
	TxID       string           `json:"txid,omitempty"`
	InternalID int64            `json:"internal_id,omitempty"`
	Millis     int64            `json:"ts_ms"`
}

func (o *documentOutput) DispatchChangeRecord(record *observe.ChangeRecord) error {
	if len(record.After) != len(o.columns) {
		return fmt.Errorf("change record has %d values but the table has %d columns", len(record.After), len(o.columns))
	}
	var doc = make(map[string]any, len(o.columns)+1)
	for i, name := range o.columns {
		doc[name] = translateValue(record.After[i])
	}
	doc["_meta"] = &documentMetadata{
		Operation:  record.Operation,
		Table:      record.Table.String(),
		Partition:  record.Partition,
		Offset:     record.Offset,
		TxID:       record.TxID,
		InternalID: record.InternalID,
		Millis:     time.Now().UnixMilli(),
	}
	if err := o.enc.Encode(doc); err != nil {
		return fmt.Errorf("error serializing document: %w", err)
	}
	o.count++
	return nil
}

// Flush drains the output buffer. Must be called once streaming ends.
func (o *documentOutput) Flush() error {
	log.WithField("count", o.count).Info("output complete")
	return o.buf.Flush()
}

// translateValue converts raw wire values into JSON-friendly ones. The
// go-mysql client surfaces text columns as byte slices, which would
// otherwise serialize as base64.
func translateValue(val any) any {
	if val, ok := val.([]byte); ok {
		return string(val)
	}
	return val
}

// failureSink records the terminal error of a failed stream. The first
// failure wins; it stops the pipeline after cleanup. It implements
// observe.FailureReporter.
type failureSink struct {
	mu  sync.Mutex
	err error
}

func (f *failureSink) ReportFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *failureSink) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
