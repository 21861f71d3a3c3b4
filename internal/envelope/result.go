package envelope

import (
	perrors "github.com/wagiedev/parabox-connector-go/internal/errors"
)

// Result is the outcome of a command or request: either Success or Fail.
type Result interface {
	OK() bool
	Code() TypeCode
	isResult()
}

// Compile-time verification that both outcomes implement Result.
var (
	_ Result = Success{}
	_ Result = Fail{}
)

// Success is a positive acknowledgement.
type Success struct {
	TypeCode  TypeCode
	Timestamp int64
	Payload   Payload
}

// OK implements Result.
func (Success) OK() bool { return true }

// Code implements Result.
func (s Success) Code() TypeCode { return s.TypeCode }

func (Success) isResult() {}

// Fail is a negative acknowledgement or a local failure such as a timeout.
type Fail struct {
	TypeCode  TypeCode
	Timestamp int64
	ErrorCode ErrorCode
}

// OK implements Result.
func (Fail) OK() bool { return false }

// Code implements Result.
func (f Fail) Code() TypeCode { return f.TypeCode }

func (Fail) isResult() {}

// Err converts f into a Go error.
func (f Fail) Err() error {
	return &perrors.CallError{
		TypeCode: int(f.TypeCode),
		Code:     int(f.ErrorCode),
		Name:     f.ErrorCode.String(),
	}
}

// Succeed returns a Success stamped with the current time.
func Succeed(typeCode TypeCode, payload Payload) Success {
	return Success{TypeCode: typeCode, Timestamp: NowMillis(), Payload: payload}
}

// Failed returns a Fail stamped with the current time.
func Failed(typeCode TypeCode, code ErrorCode) Fail {
	return Fail{TypeCode: typeCode, Timestamp: NowMillis(), ErrorCode: code}
}

// ResultOf converts an acknowledgement envelope into a Result.
// It returns nil when e is not an acknowledgement.
func ResultOf(e *Envelope) Result {
	if e.Ack == nil {
		return nil
	}

	if e.Ack.IsSuccess {
		return Success{TypeCode: e.TypeCode, Timestamp: e.Timestamp, Payload: e.Payload}
	}

	return Fail{TypeCode: e.TypeCode, Timestamp: e.Timestamp, ErrorCode: e.Ack.ErrorCode}
}

// AsError returns nil for a Success and the Go error form of a Fail.
func AsError(r Result) error {
	if f, ok := r.(Fail); ok {
		return f.Err()
	}

	return nil
}
