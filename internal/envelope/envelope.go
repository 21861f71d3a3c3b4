package envelope

import (
	"encoding/json"
	"fmt"

	perrors "github.com/wagiedev/parabox-connector-go/internal/errors"
	"github.com/wagiedev/parabox-connector-go/internal/jsoncodec"
)

// Ack marks an envelope as the acknowledgement of a command or request.
type Ack struct {
	IsSuccess bool      `json:"is_success"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
}

// Envelope is the wire unit.
//
// Wire format:
//
//	{
//	  "kind": 255659,
//	  "type_code": 2556516,
//	  "sender": 255651,
//	  "key": "01J...",
//	  "timestamp": 1700000000000,
//	  "ack": {"is_success": true},
//	  "payload": {...}
//	}
type Envelope struct {
	Kind      Kind
	TypeCode  TypeCode
	Sender    Role
	Key       string
	Timestamp int64
	Ack       *Ack
	Payload   Payload
}

type wireEnvelope struct {
	Kind      Kind            `json:"kind"`
	TypeCode  TypeCode        `json:"type_code"`
	Sender    Role            `json:"sender"`
	Key       string          `json:"key,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Ack       *Ack            `json:"ack,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// IsAck reports whether e acknowledges an earlier call.
func (e *Envelope) IsAck() bool {
	return e.Ack != nil
}

// Validate checks the structural rules every envelope must satisfy.
func (e *Envelope) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown kind %d", int(e.Kind))
	}

	if !e.Sender.Valid() {
		return fmt.Errorf("unknown sender %d", int(e.Sender))
	}

	if e.Kind == KindNotification {
		if e.Ack != nil {
			return fmt.Errorf("notification %s cannot be acknowledged", e.TypeCode)
		}

		return nil
	}

	if e.Key == "" {
		return fmt.Errorf("%s %s missing key", e.Kind, e.TypeCode)
	}

	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return nil, err
	}

	w := wireEnvelope{
		Kind:      e.Kind,
		TypeCode:  e.TypeCode,
		Sender:    e.Sender,
		Timestamp: e.Timestamp,
		Ack:       e.Ack,
		Payload:   payload,
	}

	if e.Kind != KindNotification {
		w.Key = e.Key
	}

	return jsoncodec.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. The payload is decoded into the
// concrete type selected by the type code.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return err
	}

	payload, err := DecodePayload(w.TypeCode, w.Ack != nil, w.Payload)
	if err != nil {
		return err
	}

	*e = Envelope{
		Kind:      w.Kind,
		TypeCode:  w.TypeCode,
		Sender:    w.Sender,
		Key:       w.Key,
		Timestamp: w.Timestamp,
		Ack:       w.Ack,
		Payload:   payload,
	}

	return nil
}

// Encode serializes an envelope for a transport.
func Encode(e *Envelope) ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Decode parses and validates one frame. Failures are reported as
// *errors.EnvelopeDecodeError carrying the raw frame.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := jsoncodec.Unmarshal(data, &e); err != nil {
		return nil, &perrors.EnvelopeDecodeError{RawData: string(data), Err: err}
	}

	if err := e.Validate(); err != nil {
		return nil, &perrors.EnvelopeDecodeError{RawData: string(data), Err: err}
	}

	return &e, nil
}

// NewCall builds an outbound command or request with a fresh key.
func NewCall(kind Kind, typeCode TypeCode, sender Role, payload Payload) *Envelope {
	return &Envelope{
		Kind:      kind,
		TypeCode:  typeCode,
		Sender:    sender,
		Key:       NewKey(),
		Timestamp: NowMillis(),
		Payload:   payload,
	}
}

// NewNotification builds a keyless notification.
func NewNotification(typeCode TypeCode, sender Role, payload Payload) *Envelope {
	return &Envelope{
		Kind:      KindNotification,
		TypeCode:  typeCode,
		Sender:    sender,
		Timestamp: NowMillis(),
		Payload:   payload,
	}
}

// NewAck builds the acknowledgement of call carrying result. The ack carries
// the call's send time, so a result identifies the call it answers.
func NewAck(call *Envelope, sender Role, result Result) *Envelope {
	ack := &Envelope{
		Kind:      call.Kind,
		TypeCode:  call.TypeCode,
		Sender:    sender,
		Key:       call.Key,
		Timestamp: call.Timestamp,
	}

	switch r := result.(type) {
	case Success:
		ack.Ack = &Ack{IsSuccess: true}
		ack.Payload = r.Payload
	case Fail:
		ack.Ack = &Ack{IsSuccess: false, ErrorCode: r.ErrorCode}
	}

	if ack.Timestamp == 0 {
		ack.Timestamp = NowMillis()
	}

	return ack
}
