package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/estuary/source-singlestore/observe"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func validTestConfig() Config {
	return Config{
		Address:  "db.example.com",
		User:     "flow_capture",
		Password: "secret1234",
		Database: "analytics",
		Table:    "events",
	}
}

func TestConfigValidation(t *testing.T) {
	var cfg = validTestConfig()
	require.NoError(t, cfg.Validate())

	for _, clear := range []func(c *Config){
		func(c *Config) { c.Address = "" },
		func(c *Config) { c.User = "" },
		func(c *Config) { c.Password = "" },
		func(c *Config) { c.Database = "" },
		func(c *Config) { c.Table = "" },
	} {
		var broken = validTestConfig()
		clear(&broken)
		require.Error(t, broken.Validate())
	}

	var badMode = validTestConfig()
	badMode.Advanced.SnapshotMode = "whenever"
	require.Error(t, badMode.Validate())

	var badInterval = validTestConfig()
	badInterval.Advanced.PollIntervalSeconds = -1
	require.Error(t, badInterval.Validate())
}

func TestConfigDefaults(t *testing.T) {
	var cfg = validTestConfig()
	cfg.SetDefaults()
	require.Equal(t, "db.example.com:3306", cfg.Address)
	require.Equal(t, string(observe.SnapshotModeInitial), cfg.Advanced.SnapshotMode)
	require.Equal(t, 1, cfg.Advanced.PollIntervalSeconds)

	// An explicit port is left alone.
	cfg = validTestConfig()
	cfg.Address = "db.example.com:13306"
	cfg.SetDefaults()
	require.Equal(t, "db.example.com:13306", cfg.Address)
}

func TestParseVersion(t *testing.T) {
	for _, tc := range []struct {
		version      string
		major, minor int
	}{
		{"8.5.7", 8, 5},
		{"8.7.0", 8, 7},
		{"7.8", 7, 8},
	} {
		major, minor, err := parseVersion(tc.version)
		require.NoError(t, err)
		require.Equal(t, tc.major, major)
		require.Equal(t, tc.minor, minor)
	}
	var _, _, err = parseVersion("eight")
	require.Error(t, err)
}

func TestDocumentOutput(t *testing.T) {
	var buf bytes.Buffer
	var output = newDocumentOutput(&buf, []string{"id", "name"})
	require.NoError(t, output.DispatchChangeRecord(&observe.ChangeRecord{
		Table:      observe.TableID{Database: "analytics", Name: "events"},
		Operation:  observe.InsertOp,
		After:      []any{int64(7), []byte("alice")},
		InternalID: 42,
		Partition:  1,
		Offset:     "a1b2",
		TxID:       "0f",
	}))
	require.NoError(t, output.Flush())

	var lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &doc))
	require.Equal(t, float64(7), doc["id"])
	require.Equal(t, "alice", doc["name"]) // byte slices are emitted as strings, not base64

	var meta, ok = doc["_meta"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "c", meta["op"])
	require.Equal(t, "analytics.events", meta["table"])
	require.Equal(t, float64(1), meta["partition"])
	require.Equal(t, "a1b2", meta["offset"])
	require.Equal(t, "0f", meta["txid"])
	require.Equal(t, float64(42), meta["internal_id"])
	require.NotZero(t, meta["ts_ms"])
}

func TestDocumentOutputColumnMismatch(t *testing.T) {
	var buf bytes.Buffer
	var output = newDocumentOutput(&buf, []string{"id", "name"})
	require.Error(t, output.DispatchChangeRecord(&observe.ChangeRecord{
		Operation: observe.InsertOp,
		After:     []any{int64(7)},
	}))
}

func TestFailureSink(t *testing.T) {
	var first = errors.New("first failure")
	var second = errors.New("second failure")

	var sink = new(failureSink)
	require.NoError(t, sink.Err())
	sink.ReportFailure(first)
	sink.ReportFailure(second)
	require.Equal(t, first, sink.Err()) // the first failure wins
}
