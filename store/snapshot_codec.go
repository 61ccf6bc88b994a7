package store

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// ErrSnapshotDecode is returned when a stored snapshot payload cannot be decoded.
// Callers treat it as "no usable snapshot".
var ErrSnapshotDecode = errors.New("context snapshot payload is not decodable")

// snapshotMessage is the wire form of a Message inside a snapshot payload.
type snapshotMessage struct {
	ID              string    `cbor:"1,keyasint"`
	GroupID         string    `cbor:"2,keyasint"`
	Role            string    `cbor:"3,keyasint"`
	SenderID        string    `cbor:"4,keyasint,omitempty"`
	SenderName      string    `cbor:"5,keyasint,omitempty"`
	Mode            string    `cbor:"6,keyasint,omitempty"`
	Content         string    `cbor:"7,keyasint"`
	CreatedAt       time.Time `cbor:"8,keyasint"`
	Type            string    `cbor:"9,keyasint,omitempty"`
	Compressed      bool      `cbor:"10,keyasint,omitempty"`
	OriginalContent string    `cbor:"11,keyasint,omitempty"`
	ValueScore      *float64  `cbor:"12,keyasint,omitempty"`
}

type snapshotPayload struct {
	Version  int               `cbor:"1,keyasint"`
	Messages []snapshotMessage `cbor:"2,keyasint"`
}

const snapshotPayloadVersion = 1

var (
	cborEnc     cbor.EncMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// EncodeSnapshotMessages serializes a compacted message list into a snapshot payload.
func EncodeSnapshotMessages(messages []*Message) ([]byte, error) {
	payload := snapshotPayload{
		Version:  snapshotPayloadVersion,
		Messages: make([]snapshotMessage, 0, len(messages)),
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, snapshotMessage{
			ID:              m.ID,
			GroupID:         m.GroupID,
			Role:            string(m.Role),
			SenderID:        m.SenderID,
			SenderName:      m.SenderName,
			Mode:            m.Mode,
			Content:         m.Content,
			CreatedAt:       m.CreatedAt,
			Type:            string(m.Type),
			Compressed:      m.Compressed,
			OriginalContent: m.OriginalContent,
			ValueScore:      m.ValueScore,
		})
	}

	raw, err := cborEnc.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal snapshot payload")
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// DecodeSnapshotMessages is the inverse of EncodeSnapshotMessages.
// Any malformed payload yields ErrSnapshotDecode.
func DecodeSnapshotMessages(data []byte) ([]*Message, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(ErrSnapshotDecode, err.Error())
	}

	var payload snapshotPayload
	if err := cbor.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(ErrSnapshotDecode, err.Error())
	}
	if payload.Version != snapshotPayloadVersion {
		return nil, errors.Wrapf(ErrSnapshotDecode, "unsupported payload version %d", payload.Version)
	}

	messages := make([]*Message, 0, len(payload.Messages))
	for _, sm := range payload.Messages {
		msgType, _ := ParseMessageType(sm.Type)
		if sm.Type == "" {
			msgType = ""
		}
		messages = append(messages, &Message{
			ID:              sm.ID,
			GroupID:         sm.GroupID,
			Role:            Role(sm.Role),
			SenderID:        sm.SenderID,
			SenderName:      sm.SenderName,
			Mode:            sm.Mode,
			Content:         sm.Content,
			CreatedAt:       sm.CreatedAt,
			Type:            msgType,
			Compressed:      sm.Compressed,
			OriginalContent: sm.OriginalContent,
			ValueScore:      sm.ValueScore,
		})
	}
	return messages, nil
}
