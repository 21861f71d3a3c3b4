package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/wagiedev/parabox-connector-go/internal/jsoncodec"
	"github.com/wagiedev/parabox-connector-go/internal/message"
)

// Payload is the body of an envelope. The concrete type is fixed by the
// envelope's type code.
type Payload interface {
	isPayload()
}

// Compile-time verification that all payload types implement Payload.
var (
	_ Payload = (*StatePayload)(nil)
	_ Payload = (*SendMessagePayload)(nil)
	_ Payload = (*RecallMessagePayload)(nil)
	_ Payload = (*ReceiveMessagePayload)(nil)
	_ Payload = (*UploadProgressPayload)(nil)
	_ Payload = Empty{}
	_ Payload = Custom(nil)
)

// StatePayload reports the lifecycle state of a core.
type StatePayload struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
}

func (*StatePayload) isPayload() {}

// SendMessagePayload carries a message to deliver or to sync.
type SendMessagePayload struct {
	Dto message.SendMessageDto `json:"dto"`
}

func (*SendMessagePayload) isPayload() {}

// RecallMessagePayload names a message to recall.
type RecallMessagePayload struct {
	MessageID int64 `json:"message_id"`
}

func (*RecallMessagePayload) isPayload() {}

// ReceiveMessagePayload carries an inbound chat message.
type ReceiveMessagePayload struct {
	Dto message.ReceiveMessageDto `json:"dto"`
}

func (*ReceiveMessagePayload) isPayload() {}

// UploadProgressPayload reports progress of a resource upload.
type UploadProgressPayload struct {
	ResourceID string `json:"resource_id"`
	SentBytes  int64  `json:"sent_bytes"`
	TotalBytes int64  `json:"total_bytes"`
}

func (*UploadProgressPayload) isPayload() {}

// Empty is the payload of built-in calls that carry no data.
type Empty struct{}

func (Empty) isPayload() {}

// Custom is the payload of extension calls.
type Custom map[string]any

func (Custom) isPayload() {}

// newPayload returns a zero payload of the type used by typeCode. Successful
// acknowledgements of GET_STATE carry a state, every other built-in ack is empty.
func newPayload(typeCode TypeCode, ack bool) Payload {
	if ack {
		switch {
		case typeCode == CommandGetState:
			return &StatePayload{}
		case typeCode.Builtin():
			return Empty{}
		default:
			return Custom{}
		}
	}

	switch typeCode {
	case NotificationStateUpdate:
		return &StatePayload{}
	case NotificationUploadProgress:
		return &UploadProgressPayload{}
	case CommandSendMessage, RequestSyncMessage:
		return &SendMessagePayload{}
	case CommandRecallMessage:
		return &RecallMessagePayload{}
	case RequestReceiveMessage:
		return &ReceiveMessagePayload{}
	}

	if typeCode.Builtin() {
		return Empty{}
	}

	return Custom{}
}

// DecodePayload decodes raw into the payload type used by typeCode.
func DecodePayload(typeCode TypeCode, ack bool, raw []byte) (Payload, error) {
	p := newPayload(typeCode, ack)

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}

	switch v := p.(type) {
	case Empty:
		return v, nil
	case Custom:
		if err := jsoncodec.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", typeCode, err)
		}

		return v, nil
	default:
		if err := jsoncodec.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", typeCode, err)
		}

		return v, nil
	}
}

// CheckPayload reports whether p has the type expected for typeCode.
// A nil payload is accepted for every code.
func CheckPayload(typeCode TypeCode, ack bool, p Payload) error {
	if p == nil {
		return nil
	}

	want := newPayload(typeCode, ack)
	if reflect.TypeOf(want) != reflect.TypeOf(p) {
		return fmt.Errorf("payload %T does not match %s (want %T)", p, typeCode, want)
	}

	return nil
}

func encodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}

	if _, ok := p.(Empty); ok {
		return nil, nil
	}

	data, err := jsoncodec.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	return data, nil
}
