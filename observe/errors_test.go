package observe

import (
	"errors"
	"fmt"
	"testing"

	cerrors "github.com/estuary/source-singlestore/go/connector-errors"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/require"
)

// The classifier matches exact (code, state, message-fragment) triples: they
// are SingleStore's wire contract, and these tests pin the literal values.
func TestClassifyFailure(t *testing.T) {
	for _, tc := range []struct {
		name     string
		running  bool
		code     uint16
		state    string
		message  string
		expected FailureKind
	}{
		{"ExpectedCancellation", false, 1317, "70100", "Query execution was interrupted", FailureExpectedCancellation},
		{"InterruptedWhileRunning", true, 1317, "70100", "Query execution was interrupted", FailureFatal},
		{"InterruptedWrongCode", false, 1318, "70100", "Query execution was interrupted", FailureFatal},
		{"InterruptedWrongState", false, 1317, "HY000", "Query execution was interrupted", FailureFatal},
		{"InterruptedWrongMessage", false, 1317, "70100", "Lock wait timeout exceeded", FailureFatal},
		{"StaleOffset", true, 2851, "HY000", "The requested Offset is too stale. Please re-start the OBSERVE query from the latest snapshot.", FailureStaleOffset},
		{"StaleOffsetWhileStopping", false, 2851, "HY000", "The requested Offset is too stale. Please re-start the OBSERVE query from the latest snapshot.", FailureStaleOffset},
		{"StaleOffsetWrongState", true, 2851, "70100", "The requested Offset is too stale.", FailureFatal},
		{"AnythingElse", true, 1205, "HY000", "Lock wait timeout exceeded", FailureFatal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ClassifyFailure(tc.running, tc.code, tc.state, tc.message))
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	var interrupted = &mysql.MyError{Code: 1317, State: "70100", Message: "Query execution was interrupted"}
	require.Equal(t, FailureExpectedCancellation, Classify(false, interrupted))
	require.Equal(t, FailureFatal, Classify(true, interrupted))

	// Wrapping must not defeat classification.
	require.Equal(t, FailureExpectedCancellation, Classify(false, fmt.Errorf("error getting next row: %w", interrupted)))

	// Errors without a server error code are always fatal.
	require.Equal(t, FailureFatal, Classify(false, errors.New("connection reset by peer")))
}

func TestStaleOffsetDiagnostic(t *testing.T) {
	var cause = &mysql.MyError{Code: 2851, State: "HY000", Message: "The requested Offset is too stale."}
	var err = StaleOffsetError(cause)

	var userError *cerrors.UserError
	require.ErrorAs(t, err, &userError)
	require.ErrorIs(t, err, cause)

	// The diagnostic must enumerate the recovery options and name both
	// retention knobs that prevent recurrence.
	var text = err.Error()
	require.Contains(t, text, "create a new one with the same configuration but a different name")
	require.Contains(t, text, "Clear the connector's persisted offsets")
	require.Contains(t, text, "'snapshots_to_keep'")
	require.Contains(t, text, "'snapshot_trigger_size'")
}

func TestFatalErrorWrapping(t *testing.T) {
	var err = FatalError(&mysql.MyError{Code: 1205, State: "HY000", Message: "Lock wait timeout exceeded"})
	require.Contains(t, err.Error(), "Lock wait timeout exceeded")
	require.Contains(t, err.Error(), "error code: 1205")
	require.Contains(t, err.Error(), "sqlstate: HY000")

	var plain = errors.New("connection reset by peer")
	require.Equal(t, plain, FatalError(plain))
}
