// Package observe implements the streaming half of a SingleStore change
// data capture client: it builds and issues a long-lived OBSERVE query,
// decodes the multiplexed row-change stream it returns, and maintains a
// resumable per-partition offset cursor.
package observe

import (
	"fmt"
	"sync/atomic"
)

// ChangeOp encodes a change operation type.
// It's compatible with Debezium's change event representation.
type ChangeOp string

const (
	// InsertOp is an INSERT operation.
	InsertOp ChangeOp = "c"
	// UpdateOp is an UPDATE operation.
	UpdateOp ChangeOp = "u"
	// DeleteOp is a DELETE operation.
	DeleteOp ChangeOp = "d"
)

// TableID identifies one table within a SingleStore database.
type TableID struct {
	Database string
	Name     string
}

func (t TableID) String() string {
	if t.Database == "" {
		return t.Name
	}
	return t.Database + "." + t.Name
}

// ColumnID identifies one column of a specific table.
type ColumnID struct {
	Table  TableID
	Column string
}

// ChangeRecord is one decoded row-change event. There is no before-image:
// the OBSERVE stream reports the full row state after each change.
type ChangeRecord struct {
	Table      TableID
	Operation  ChangeOp
	After      []any  // After-image values, in the table's column order.
	InternalID int64  // The row's internal id, a monotonically increasing surrogate key.
	Partition  int    // Zero-based partition of the log the event came from.
	Offset     string // Hex-encoded offset of the event within its partition.
	TxID       string // Hex-encoded transaction id.
}

// RowSource executes a streaming query against the database. The onResult
// callback is invoked once with the result set's column names as soon as the
// query opens, and then onRow is invoked for every row until the stream
// ends, a callback returns an error, or the query is forcibly cancelled.
// Both callbacks run on the calling goroutine. The call blocks indefinitely
// between rows, which is why a Stream pairs it with a QueryCanceler.
type RowSource interface {
	StreamQuery(query string, onResult func(columns []string) error, onRow func(values []any) error) error
}

// QueryCanceler forcibly aborts the query currently executing on the
// streaming connection. It must be safe to call while a read is in progress
// and harmless if the query has already finished.
type QueryCanceler interface {
	CancelQuery() error
}

// SchemaInfo provides the identity and ordered column list of the table(s)
// being observed. Streaming requires exactly one table.
type SchemaInfo interface {
	TableIDs() []TableID
	ColumnNames(table TableID) ([]string, error)
}

// Dispatcher receives decoded change records. Returning an error halts the
// stream; the error is re-raised by Execute after cleanup so that callers
// can distinguish their own cancellation from a source-side failure.
type Dispatcher interface {
	DispatchChangeRecord(record *ChangeRecord) error
}

// FailureReporter receives the terminal error of a stream that failed. The
// reporter is expected to stop the surrounding pipeline; the stream itself
// never retries.
type FailureReporter interface {
	ReportFailure(err error)
}

// RunState is the level-triggered "keep running" flag shared between the
// consumer loop and the cancellation watcher. It carries no business state:
// flipping it only ever results in the in-flight query being cancelled.
type RunState struct {
	stopped atomic.Bool
}

// NewRunState returns a RunState in the running position.
func NewRunState() *RunState {
	return &RunState{}
}

// Stop requests that the stream halt. It may be called from any goroutine
// and is idempotent.
func (r *RunState) Stop() {
	r.stopped.Store(true)
}

// IsRunning reports whether the stream should keep consuming rows.
func (r *RunState) IsRunning() bool {
	return !r.stopped.Load()
}

// SnapshotMode controls whether the connector streams changes after the
// initial snapshot.
type SnapshotMode string

const (
	// SnapshotModeInitial takes an initial snapshot and then streams changes.
	SnapshotModeInitial SnapshotMode = "initial"
	// SnapshotModeInitialOnly takes an initial snapshot and never streams.
	SnapshotModeInitialOnly SnapshotMode = "initial_only"
)

// ShouldStream reports whether change streaming is enabled for this mode.
func (m SnapshotMode) ShouldStream() bool {
	return m != SnapshotModeInitialOnly
}

// Validate checks that the mode is one of the known values.
func (m SnapshotMode) Validate() error {
	switch m {
	case SnapshotModeInitial, SnapshotModeInitialOnly:
		return nil
	}
	return fmt.Errorf("invalid snapshot mode %q (expected %q or %q)", string(m), SnapshotModeInitial, SnapshotModeInitialOnly)
}
