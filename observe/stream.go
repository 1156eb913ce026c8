package observe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Metadata columns present in every OBSERVE result set, ahead of the
// observed table's own columns. Names are fixed and case-sensitive.
const (
	metaOffset       = "Offset"       // Binary cursor, hex-encoded on ingestion.
	metaPartitionID  = "PartitionId"  // 1-based on the wire, normalized to 0-based.
	metaType         = "Type"         // Insert | Update | Delete | BeginSnapshot | CommitSnapshot
	metaTable        = "Table"        // Name of the table the row belongs to.
	metaTxID         = "TxId"         // Binary transaction id, hex-encoded on ingestion.
	metaTxPartitions = "TxPartitions" // Number of partitions in the transaction. Carried, not consumed.
	metaInternalID   = "InternalId"   // Monotonically increasing surrogate row id.
)

// Row type values reported in the Type metadata column. Snapshot begin and
// commit markers are protocol bookkeeping and never produce change records.
const (
	typeInsert         = "Insert"
	typeUpdate         = "Update"
	typeDelete         = "Delete"
	typeBeginSnapshot  = "BeginSnapshot"
	typeCommitSnapshot = "CommitSnapshot"
)

// InternalIDField is the name of the synthetic column substituted for the
// InternalId metadata column when no natural primary key is projected.
const InternalIDField = "internalId"

// defaultPollInterval is how often the cancellation watcher re-checks the
// running flag while the consumer loop is blocked reading rows.
const defaultPollInterval = 1 * time.Second

// errStreamHalted is the sentinel returned from the row callback to unwind
// the blocking read when the loop decides to stop consuming. It never
// escapes Execute.
var errStreamHalted = errors.New("stream halted")

// Stream runs one long-lived OBSERVE query and turns its output into change
// records. It owns its OffsetContext for the duration of Execute; the
// caller persists the context between restarts. A Stream never retries:
// restart policy belongs to the caller.
type Stream struct {
	Source     RowSource       // Issues the blocking streaming query.
	Canceler   QueryCanceler   // Kills the in-flight query when the watcher fires.
	Schema     SchemaInfo      // Identity and columns of the single observed table.
	Dispatcher Dispatcher      // Receives decoded change records.
	Failures   FailureReporter // Receives the terminal error of a failed stream.
	State      *OffsetContext  // Resume cursors, mutated in place as rows arrive.
	Running    *RunState       // Level-triggered keep-running flag, polled by loop and watcher.

	SnapshotMode       SnapshotMode  // Streaming is a no-op under initial_only.
	PopulateInternalID bool          // Substitute the InternalId metadata column for the synthetic internalId field.
	PollInterval       time.Duration // Watcher poll cadence. Defaults to one second.
}

// Execute opens the stream and consumes it until the stream ends, the
// running flag goes false, the dispatcher cancels, or the source fails.
//
// A dispatcher error is returned to the caller after cleanup. Classified
// source failures are routed to the FailureReporter instead, and expected
// cancellation (the watcher killing the query after a shutdown request) is
// swallowed entirely, so a clean shutdown returns nil.
func (s *Stream) Execute(ctx context.Context) error {
	if !s.SnapshotMode.ShouldStream() {
		logrus.WithField("mode", s.SnapshotMode).Info("streaming is disabled for this snapshot mode")
		return nil
	}

	// The OBSERVE protocol addresses exactly one logical table per stream.
	// Anything else is a programming-contract violation, caught before any
	// query is issued.
	var tables = s.Schema.TableIDs()
	if len(tables) != 1 {
		return fmt.Errorf("internal error: the change stream must observe exactly one table, but the schema has %d", len(tables))
	}
	var table = tables[0]
	var columns, err = s.Schema.ColumnNames(table)
	if err != nil {
		return fmt.Errorf("error listing columns of %q: %w", table.String(), err)
	}

	var query = &Query{Tables: []TableID{table}}
	if directive, ok := s.State.ResumeDirective(); ok {
		query.Resume = directive
	}

	var isRunning = func() bool {
		return ctx.Err() == nil && s.Running.IsRunning()
	}

	var (
		positions      []int         // Table column index -> result set column index.
		meta           metaPositions // Result set positions of the stream metadata columns.
		dispatchErr    error         // Preserved dispatcher cancellation, re-raised after cleanup.
		watcherStarted bool
		watcherStop    = make(chan struct{})
		watcherDone    = make(chan struct{})
	)

	var onResult = func(resultColumns []string) error {
		var err error
		if positions, err = columnPositions(resultColumns, columns, s.PopulateInternalID); err != nil {
			return err
		}
		if meta, err = metadataPositions(resultColumns); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"table":  table.String(),
			"resume": query.Resume,
		}).Info("change stream opened")

		// The read now blocks indefinitely at row granularity with no
		// native interrupt, so from here on a watcher polls the running
		// flag and kills the query when it flips.
		watcherStarted = true
		go s.watchCancellation(isRunning, watcherStop, watcherDone)
		return nil
	}

	var onRow = func(values []any) error {
		if !isRunning() {
			return errStreamHalted
		}

		rowType, err := stringValue(values[meta.rowType])
		if err != nil {
			return fmt.Errorf("error decoding row type: %w", err)
		}
		var op ChangeOp
		switch rowType {
		case typeInsert:
			op = InsertOp
		case typeUpdate:
			op = UpdateOp
		case typeDelete:
			op = DeleteOp
		default:
			// Snapshot markers and any other bookkeeping rows: no record,
			// no offset update.
			return nil
		}

		offset, err := hexValue(values[meta.offset])
		if err != nil {
			return fmt.Errorf("error decoding offset: %w", err)
		}
		rawPartition, err := int64Value(values[meta.partitionID])
		if err != nil {
			return fmt.Errorf("error decoding partition id: %w", err)
		}
		var partition = int(rawPartition) - 1 // 1-based on the wire
		txID, err := hexValue(values[meta.txID])
		if err != nil {
			return fmt.Errorf("error decoding transaction id: %w", err)
		}
		internalID, err := int64Value(values[meta.internalID])
		if err != nil {
			return fmt.Errorf("error decoding internal id: %w", err)
		}

		s.State.Event(time.Now())
		if err := s.State.Update(partition, txID, offset); err != nil {
			return err
		}

		var after = make([]any, len(positions))
		for i, pos := range positions {
			after[i] = values[pos]
		}
		var record = &ChangeRecord{
			Table:      table,
			Operation:  op,
			After:      after,
			InternalID: internalID,
			Partition:  partition,
			Offset:     offset,
			TxID:       txID,
		}
		logrus.WithFields(logrus.Fields{
			"op":        op,
			"partition": partition,
			"offset":    offset,
		}).Trace("streaming record")
		if err := s.Dispatcher.DispatchChangeRecord(record); err != nil {
			dispatchErr = err
			return errStreamHalted
		}
		return nil
	}

	err = s.Source.StreamQuery(query.String(), onResult, onRow)
	if watcherStarted {
		close(watcherStop)
		<-watcherDone
	}

	if dispatchErr != nil {
		// Cancellation signalled by the dispatch boundary is the caller's
		// own doing and must be re-raised, not swallowed.
		return dispatchErr
	}
	if errors.Is(err, errStreamHalted) {
		logrus.Info("change stream stopped")
		return nil
	}
	if err != nil {
		switch Classify(isRunning(), err) {
		case FailureExpectedCancellation:
			logrus.WithError(err).Debug("observe query killed by shutdown watcher")
		case FailureStaleOffset:
			logrus.WithError(err).Error("resume offset is stale")
			s.Failures.ReportFailure(StaleOffsetError(err))
		default:
			var failure = FatalError(err)
			logrus.WithError(failure).Error("change stream failed")
			s.Failures.ReportFailure(failure)
		}
		return nil
	}
	logrus.Info("change stream ended")
	return nil
}

// watchCancellation polls the running flag and, on observing it false,
// forcibly cancels the in-flight query so the blocked read unwinds. It fires
// at most once. It may race with natural end-of-stream: killing a query that
// has already finished is harmless, and the loop waits for the watcher to
// exit before returning so there is no double cleanup.
func (s *Stream) watchCancellation(isRunning func() bool, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	var interval = s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if isRunning() {
				continue
			}
			logrus.Info("shutdown requested, cancelling the open observe query")
			if err := s.Canceler.CancelQuery(); err != nil {
				logrus.WithError(err).Warn("error cancelling observe query")
			}
			return
		}
	}
}

// metaPositions holds the result set positions of the fixed stream metadata
// columns.
type metaPositions struct {
	offset       int
	partitionID  int
	rowType      int
	table        int
	txID         int
	txPartitions int
	internalID   int
}

func metadataPositions(resultColumns []string) (metaPositions, error) {
	var m metaPositions
	var err error
	if m.offset, err = findColumn(resultColumns, metaOffset); err != nil {
		return m, err
	}
	if m.partitionID, err = findColumn(resultColumns, metaPartitionID); err != nil {
		return m, err
	}
	if m.rowType, err = findColumn(resultColumns, metaType); err != nil {
		return m, err
	}
	if m.table, err = findColumn(resultColumns, metaTable); err != nil {
		return m, err
	}
	if m.txID, err = findColumn(resultColumns, metaTxID); err != nil {
		return m, err
	}
	if m.txPartitions, err = findColumn(resultColumns, metaTxPartitions); err != nil {
		return m, err
	}
	if m.internalID, err = findColumn(resultColumns, metaInternalID); err != nil {
		return m, err
	}
	return m, nil
}

// columnPositions maps each logical table column to its physical position in
// the result set, built once per stream open. When the internal-id feature
// is enabled the synthetic internalId field reads from the InternalId
// metadata column instead of a projected table column.
func columnPositions(resultColumns, tableColumns []string, populateInternalID bool) ([]int, error) {
	var positions = make([]int, 0, len(tableColumns))
	for _, name := range tableColumns {
		if populateInternalID && name == InternalIDField {
			name = metaInternalID
		}
		var pos, err = findColumn(resultColumns, name)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func findColumn(resultColumns []string, name string) (int, error) {
	for i, col := range resultColumns {
		if col == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q not present in the observe result set", name)
}

func stringValue(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", fmt.Errorf("expected a string value, got %T", v)
}

func int64Value(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("expected an integer value, got %T", v)
}

func hexValue(v any) (string, error) {
	switch v := v.(type) {
	case []byte:
		return EncodeOffset(v), nil
	case string:
		return EncodeOffset([]byte(v)), nil
	}
	return "", fmt.Errorf("expected a binary value, got %T", v)
}
