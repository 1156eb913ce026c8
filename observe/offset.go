package observe

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// OffsetContext tracks the resumable position of one change stream: a single
// opaque cursor per log partition, plus the timestamp of the last observed
// event. It is owned exclusively by the consumer loop while a stream is
// executing and is serialized to JSON for persistence between restarts.
//
// Cursors are only comparable within one partition, and the source delivers
// events for a partition in order, so Update never compares old and new
// values: it records whatever the stream last reported.
type OffsetContext struct {
	// Offsets holds one hex-encoded cursor per partition, in partition
	// order. A nil entry means the partition has never been observed and
	// renders as the literal NULL in a resume directive, which is distinct
	// from an empty (zero-length) cursor.
	Offsets []*string `json:"offsets"`
	// TxIDs holds the hex-encoded transaction id of the last event seen on
	// each partition. Informational only; it never feeds back into resume.
	TxIDs []string `json:"tx_ids,omitempty"`
	// LastEventMillis is the wall-clock time of the last observed event.
	LastEventMillis int64 `json:"last_event_ms,omitempty"`
}

// NewOffsetContext returns a fresh context for a table whose change log has
// the given number of partitions, with every cursor unset.
func NewOffsetContext(partitions int) *OffsetContext {
	return &OffsetContext{
		Offsets: make([]*string, partitions),
		TxIDs:   make([]string, partitions),
	}
}

// PartitionCount returns the number of partitions this context tracks.
func (o *OffsetContext) PartitionCount() int {
	if o == nil {
		return 0
	}
	return len(o.Offsets)
}

// Update records the cursor of the latest event observed on one partition.
// Other partitions are untouched: the stream advances one partition at a
// time per event.
func (o *OffsetContext) Update(partition int, txID, offsetHex string) error {
	if partition < 0 || partition >= len(o.Offsets) {
		return fmt.Errorf("partition %d out of range (stream has %d partitions)", partition, len(o.Offsets))
	}
	var cursor = offsetHex
	o.Offsets[partition] = &cursor
	if len(o.TxIDs) != len(o.Offsets) {
		o.TxIDs = make([]string, len(o.Offsets))
	}
	o.TxIDs[partition] = txID
	return nil
}

// Event records the wall-clock time of the most recent observed event.
func (o *OffsetContext) Event(t time.Time) {
	o.LastEventMillis = t.UnixMilli()
}

// ResumeDirective renders the per-partition cursor tuple used to reopen the
// stream without gaps or duplicates, e.g. "(NULL,'a1b2')". The second return
// value is false when the partition count is unknown, in which case the
// BEGINNING AT clause must be omitted entirely.
func (o *OffsetContext) ResumeDirective() (string, bool) {
	if o == nil || len(o.Offsets) == 0 {
		return "", false
	}
	var parts = make([]string, len(o.Offsets))
	for i, offset := range o.Offsets {
		if offset == nil {
			parts[i] = "NULL"
		} else {
			parts[i] = "'" + *offset + "'"
		}
	}
	return "(" + strings.Join(parts, ",") + ")", true
}

// EncodeOffset converts a raw binary cursor into its canonical lowercase hex
// representation.
func EncodeOffset(cursor []byte) string {
	return hex.EncodeToString(cursor)
}

// DecodeOffset reverses EncodeOffset.
func DecodeOffset(offsetHex string) ([]byte, error) {
	var cursor, err = hex.DecodeString(offsetHex)
	if err != nil {
		return nil, fmt.Errorf("invalid offset %q: %w", offsetHex, err)
	}
	return cursor, nil
}
