package observe

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOffsetHexRoundTrip(t *testing.T) {
	for _, cursor := range [][]byte{
		{},
		{0x00},
		{0xa1, 0xb2},
		{0x00, 0x01, 0x02, 0xfe, 0xff},
	} {
		var encoded = EncodeOffset(cursor)
		var decoded, err = DecodeOffset(encoded)
		require.NoError(t, err)
		require.Equal(t, cursor, decoded)
	}
	var _, err = DecodeOffset("not hex")
	require.Error(t, err)
}

func TestResumeDirective(t *testing.T) {
	var state = NewOffsetContext(1)
	directive, ok := state.ResumeDirective()
	require.True(t, ok)
	require.Equal(t, "(NULL)", directive)

	state = NewOffsetContext(3)
	require.NoError(t, state.Update(1, "0f", "a1b2"))
	directive, ok = state.ResumeDirective()
	require.True(t, ok)
	require.Equal(t, "(NULL,'a1b2',NULL)", directive)

	// An empty cursor is a valid position, distinct from NULL.
	require.NoError(t, state.Update(0, "0f", ""))
	directive, ok = state.ResumeDirective()
	require.True(t, ok)
	require.Equal(t, "('','a1b2',NULL)", directive)

	// With no known partitions the resume clause must be omitted entirely.
	_, ok = (*OffsetContext)(nil).ResumeDirective()
	require.False(t, ok)
	_, ok = (&OffsetContext{}).ResumeDirective()
	require.False(t, ok)
}

func TestOffsetUpdate(t *testing.T) {
	var state = NewOffsetContext(2)
	require.NoError(t, state.Update(0, "01", "aa"))
	require.NoError(t, state.Update(0, "02", "ab"))
	require.NoError(t, state.Update(0, "03", "ac"))

	// Updates advance one partition at a time and leave the rest untouched.
	require.Equal(t, "ac", *state.Offsets[0])
	require.Nil(t, state.Offsets[1])
	require.Equal(t, "03", state.TxIDs[0])

	require.Error(t, state.Update(-1, "04", "ad"))
	require.Error(t, state.Update(2, "04", "ad"))
}

func TestOffsetPersistenceShape(t *testing.T) {
	var state = NewOffsetContext(2)
	require.NoError(t, state.Update(1, "0f", "a1b2"))
	state.Event(time.UnixMilli(1700000000000))

	var bs, err = json.Marshal(state)
	require.NoError(t, err)
	require.JSONEq(t, `{"offsets": [null, "a1b2"], "tx_ids": ["", "0f"], "last_event_ms": 1700000000000}`, string(bs))

	var restored OffsetContext
	require.NoError(t, json.Unmarshal(bs, &restored))
	var directive, ok = restored.ResumeDirective()
	require.True(t, ok)
	require.Equal(t, "(NULL,'a1b2')", directive)
}
