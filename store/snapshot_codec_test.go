package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCodec(t *testing.T) {
	score := 7.5
	at := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	in := []*Message{
		{ID: "m1", GroupID: "g", Role: RoleUser, SenderName: "alice", Content: "你好", CreatedAt: at, Type: MessageTypeUser, ValueScore: &score},
		{ID: "summary_m0", GroupID: "g", Role: RoleAssistant, Content: "digest", CreatedAt: at, Type: MessageTypeStatus, Compressed: true, OriginalContent: "[bob]: x"},
		{ID: "m2", GroupID: "g", Role: RoleAssistant, Content: "unscored", CreatedAt: at.Add(time.Second)},
	}

	data, err := EncodeSnapshotMessages(in)
	require.NoError(t, err)

	out, err := DecodeSnapshotMessages(data)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "你好", out[0].Content)
	assert.True(t, out[0].CreatedAt.Equal(at))
	require.NotNil(t, out[0].ValueScore)
	assert.Equal(t, 7.5, *out[0].ValueScore)
	assert.True(t, out[1].Compressed)
	assert.Equal(t, "[bob]: x", out[1].OriginalContent)
	assert.Nil(t, out[2].ValueScore)
	assert.Equal(t, MessageType(""), out[2].Type)
}

func TestSnapshotCodecRejectsGarbage(t *testing.T) {
	t.Run("not zstd", func(t *testing.T) {
		_, err := DecodeSnapshotMessages([]byte("plain text"))
		assert.ErrorIs(t, err, ErrSnapshotDecode)
	})

	t.Run("zstd but not cbor", func(t *testing.T) {
		_, err := DecodeSnapshotMessages(zstdEncoder.EncodeAll([]byte{0xff, 0xfe}, nil))
		assert.ErrorIs(t, err, ErrSnapshotDecode)
	})
}

func TestMessageClone(t *testing.T) {
	score := 1.0
	m := &Message{ID: "m", ValueScore: &score}
	c := m.Clone()
	*c.ValueScore = 2
	assert.Equal(t, 1.0, *m.ValueScore)
}

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		raw  string
		want MessageType
		ok   bool
	}{
		{"status", MessageTypeStatus, true},
		{"failure", MessageTypeFailure, true},
		{"chitchat", MessageTypeNormal, false},
		{"", MessageTypeNormal, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseMessageType(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
