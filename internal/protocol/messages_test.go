package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeRejectsUnknownType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":"definitely-not-a-thing","data":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")
}

func TestDecodeEnvelopeRejectsMalformedFrame(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"type":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestPlaybackCommandOptionalFields(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"seek","data":{"position":42.5,"timestamp":"2026-01-02T15:04:05Z"}}`))
	require.NoError(t, err)
	require.Equal(t, TypeSeek, env.Type)

	var cmd PlaybackCommand
	require.NoError(t, env.Decode(&cmd))
	assert.Equal(t, 42.5, cmd.Position)
	assert.Nil(t, cmd.PlaybackRate, "absent rate must stay nil")
	assert.Nil(t, cmd.SyncVersion, "absent version must stay nil")
}

func TestPlaybackCommandFullPayload(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"play","data":{"position":10,"timestamp":"2026-01-02T15:04:05Z","playback_rate":1.5,"sync_version":7}}`))
	require.NoError(t, err)

	var cmd PlaybackCommand
	require.NoError(t, env.Decode(&cmd))
	require.NotNil(t, cmd.PlaybackRate)
	assert.Equal(t, 1.5, *cmd.PlaybackRate)
	require.NotNil(t, cmd.SyncVersion)
	assert.Equal(t, uint64(7), *cmd.SyncVersion)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), cmd.Timestamp)
}

func TestDecodeRequiresPayload(t *testing.T) {
	env := Envelope{Type: TypeSeek}
	var cmd PlaybackCommand
	assert.Error(t, env.Decode(&cmd))
}

func TestNewEnvelopeRoundTrip(t *testing.T) {
	in := Ping{Timestamp: time.Now().UTC().Truncate(time.Second)}
	env, err := NewEnvelope(TypePing, in)
	require.NoError(t, err)

	var out Ping
	require.NoError(t, env.Decode(&out))
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
}

func TestIsPlaybackCommand(t *testing.T) {
	assert.True(t, TypePlay.IsPlaybackCommand())
	assert.True(t, TypePause.IsPlaybackCommand())
	assert.True(t, TypeSeek.IsPlaybackCommand())
	assert.False(t, TypeSyncRequest.IsPlaybackCommand())
	assert.False(t, TypePositionUpdate.IsPlaybackCommand())
}

func TestValidCoversClosedSet(t *testing.T) {
	for _, typ := range []MessageType{
		TypeJoinRoom, TypeLeaveRoom, TypePlay, TypePause, TypeSeek,
		TypeSyncRequest, TypeSyncResponse, TypeSyncConflict, TypeRoomState,
		TypeUserJoined, TypeUserLeft, TypeHostChanged, TypePing, TypePong,
		TypeChatMessage, TypeNewChat, TypePositionUpdate, TypeEventBatch, TypeError,
	} {
		assert.True(t, typ.Valid(), string(typ))
	}
	assert.False(t, MessageType("").Valid())
	assert.False(t, MessageType("shutdown").Valid())
}
