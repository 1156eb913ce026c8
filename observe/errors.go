package observe

import (
	"errors"
	"fmt"
	"strings"

	cerrors "github.com/estuary/source-singlestore/go/connector-errors"
	"github.com/go-mysql-org/go-mysql/mysql"
)

// FailureKind is the classification of a terminating stream error.
type FailureKind int

const (
	// FailureFatal is any error not otherwise classified. It stops the
	// pipeline with the vendor code and sqlstate appended for diagnosis.
	FailureFatal FailureKind = iota
	// FailureExpectedCancellation is the server-side error produced when
	// the cancellation watcher kills the query after the running flag went
	// false. It is swallowed silently.
	FailureExpectedCancellation
	// FailureStaleOffset means the requested resume position has been
	// garbage-collected upstream. Resuming would deterministically fail
	// again, so it is reported as fatal with recovery instructions and
	// never retried.
	FailureStaleOffset
)

// The (code, sqlstate, message-fragment) triples below are SingleStore's
// wire contract for the two failure conditions this connector must recognize.
// They are matched literally: fuzzier matching risks silently swallowing
// genuine fatal errors.
const (
	codeQueryInterrupted  = 1317
	stateQueryInterrupted = "70100"
	msgQueryInterrupted   = "Query execution was interrupted"

	codeStaleOffset  = 2851
	stateStaleOffset = "HY000"
	msgStaleOffset   = "requested Offset is too stale"
)

// ClassifyFailure decides how a terminating stream error should be handled,
// given the running flag's value at failure time and the failure's vendor
// error code, sqlstate, and message. It is a pure function with no memory
// across calls.
func ClassifyFailure(running bool, code uint16, state, message string) FailureKind {
	if !running && code == codeQueryInterrupted && state == stateQueryInterrupted &&
		strings.Contains(message, msgQueryInterrupted) {
		return FailureExpectedCancellation
	}
	if code == codeStaleOffset && state == stateStaleOffset &&
		strings.Contains(message, msgStaleOffset) {
		return FailureStaleOffset
	}
	return FailureFatal
}

// Classify applies ClassifyFailure to an error returned by the row source.
// Errors which don't carry a server error code are always fatal.
func Classify(running bool, err error) FailureKind {
	var serverErr *mysql.MyError
	if !errors.As(err, &serverErr) {
		return FailureFatal
	}
	return ClassifyFailure(running, serverErr.Code, serverErr.State, serverErr.Message)
}

const staleOffsetDiagnostic = `The offset that the connector is trying to resume from is considered stale, so streaming cannot resume.
You can use either of the following options to recover from the failure:
 * Delete this connector and create a new one with the same configuration but a different name, so it starts from a fresh snapshot.
 * Clear the connector's persisted offsets (remove or reset its state file) before restarting it.
To help prevent failures related to stale offsets, you can increase the following SingleStore engine variables:
 * 'snapshots_to_keep' - Defines the number of snapshots to keep for backup and replication.
 * 'snapshot_trigger_size' - Defines the size of transaction logs in bytes, which, when reached, triggers a snapshot that is written to disk.`

// StaleOffsetError wraps a stale-resume failure with the user-actionable
// recovery instructions. The text is part of the connector's user-visible
// contract, not incidental logging.
func StaleOffsetError(cause error) error {
	return cerrors.NewUserError(cause, staleOffsetDiagnostic)
}

// FatalError rewraps a terminating error with the server's error code and
// sqlstate appended, so the failure can be acted on without driver-level
// debugging.
func FatalError(err error) error {
	var serverErr *mysql.MyError
	if errors.As(err, &serverErr) {
		return fmt.Errorf("%s (error code: %d; sqlstate: %s)", serverErr.Message, serverErr.Code, serverErr.State)
	}
	return err
}
