package parabox

import (
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/message"
	"github.com/wagiedev/parabox-connector-go/internal/protocol"
)

// Re-export protocol types for public API.
type (
	// Kind is the kind of an envelope: command, request or notification.
	Kind = envelope.Kind

	// Role identifies an endpoint: main host, controller or core.
	Role = envelope.Role

	// TypeCode names a command, request or notification.
	TypeCode = envelope.TypeCode

	// ErrorCode explains a failed acknowledgement.
	ErrorCode = envelope.ErrorCode

	// State is the lifecycle state of a core.
	State = envelope.State

	// Envelope is one protocol message.
	Envelope = envelope.Envelope

	// Payload is the body of an envelope.
	Payload = envelope.Payload

	// Result is the outcome of a command or request: Success or Fail.
	Result = envelope.Result

	// Success is a positive acknowledgement.
	Success = envelope.Success

	// Fail is a negative acknowledgement or a local failure.
	Fail = envelope.Fail

	// Inbound is a command or request received from a peer.
	Inbound = protocol.Inbound

	// Handler answers inbound commands or requests.
	Handler = protocol.Handler

	// NotificationHandler receives notifications.
	NotificationHandler = protocol.NotificationHandler
)

// Built-in payloads.
type (
	StatePayload          = envelope.StatePayload
	SendMessagePayload    = envelope.SendMessagePayload
	RecallMessagePayload  = envelope.RecallMessagePayload
	ReceiveMessagePayload = envelope.ReceiveMessagePayload
	UploadProgressPayload = envelope.UploadProgressPayload
	Empty                 = envelope.Empty
	Custom                = envelope.Custom
)

// Message model.
type (
	SendMessageDto    = message.SendMessageDto
	ReceiveMessageDto = message.ReceiveMessageDto
	Profile           = message.Profile
	PluginConnection  = message.PluginConnection
	SendTargetType    = message.SendTargetType
	Content           = message.Content
	Contents          = message.Contents
	PlainText         = message.PlainText
	Image             = message.Image
	At                = message.At
	AtAll             = message.AtAll
	Audio             = message.Audio
	QuoteReply        = message.QuoteReply
	File              = message.File
	Location          = message.Location
)

// Kinds.
const (
	KindRequest      = envelope.KindRequest
	KindNotification = envelope.KindNotification
	KindCommand      = envelope.KindCommand
)

// Roles.
const (
	RoleMainHost   = envelope.RoleMainHost
	RoleController = envelope.RoleController
	RoleCore       = envelope.RoleCore
)

// Built-in type codes.
const (
	CommandStart          = envelope.CommandStart
	CommandStop           = envelope.CommandStop
	CommandForceStop      = envelope.CommandForceStop
	CommandSendMessage    = envelope.CommandSendMessage
	CommandRecallMessage  = envelope.CommandRecallMessage
	CommandRefreshMessage = envelope.CommandRefreshMessage
	CommandGetState       = envelope.CommandGetState

	NotificationStateUpdate    = envelope.NotificationStateUpdate
	NotificationMainHostLaunch = envelope.NotificationMainHostLaunch
	NotificationUploadProgress = envelope.NotificationUploadProgress

	RequestReceiveMessage = envelope.RequestReceiveMessage
	RequestSyncMessage    = envelope.RequestSyncMessage
)

// Error codes.
const (
	CodeTimeout          = envelope.CodeTimeout
	CodeDisconnected     = envelope.CodeDisconnected
	CodeRepeatedCall     = envelope.CodeRepeatedCall
	CodeResourceNotFound = envelope.CodeResourceNotFound
	CodeSendFailed       = envelope.CodeSendFailed
)

// States.
const (
	StateStopped = envelope.StateStopped
	StatePaused  = envelope.StatePaused
	StateError   = envelope.StateError
	StateLoading = envelope.StateLoading
	StateRunning = envelope.StateRunning
)

// Send target types.
const (
	SendTargetUser  = message.SendTargetUser
	SendTargetGroup = message.SendTargetGroup
)

// Succeed returns a Success stamped with the current time.
func Succeed(typeCode TypeCode, payload Payload) Success {
	return envelope.Succeed(typeCode, payload)
}

// Failed returns a Fail stamped with the current time.
func Failed(typeCode TypeCode, code ErrorCode) Fail {
	return envelope.Failed(typeCode, code)
}

// AsError returns nil for a Success and a *CallError for a Fail.
func AsError(r Result) error {
	return envelope.AsError(r)
}

// ParseRole parses "main_host", "controller" or "core".
func ParseRole(s string) (Role, bool) {
	return envelope.ParseRole(s)
}
