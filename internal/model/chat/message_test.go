package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageWithoutTimestampStaysWithout(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"sender":"ai","text":"hello"}`), &m))
	require.True(t, m.CreatedAt.IsZero())

	out, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"sender":"ai","text":"hello"}`, string(out))
}

func TestMessageTimestampFormats(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 30, 0, 123_000_000, time.UTC)

	var iso Message
	require.NoError(t, json.Unmarshal([]byte(`{"sender":"user","text":"a","created_at":"2024-05-01T10:30:00.123Z"}`), &iso))
	require.True(t, want.Equal(iso.CreatedAt))

	var millis Message
	require.NoError(t, json.Unmarshal([]byte(`{"sender":"user","text":"a","created_at":1714559400123}`), &millis))
	require.True(t, want.Equal(millis.CreatedAt))
}

func TestMessageKeepsUnparsableTimestamp(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"sender":"user","text":"a","created_at":"yesterday"}`), &m))
	require.True(t, m.CreatedAt.IsZero())

	out, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, `{"sender":"user","text":"a","created_at":"yesterday"}`, string(out))
}

func TestNewMessageRoundTrip(t *testing.T) {
	m := NewMessage(SenderUser, "hi", "u-1")
	b, err := json.Marshal(m)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, m, back)
}
