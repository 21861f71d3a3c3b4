package envelope

import "strconv"

// Kind is the envelope category.
type Kind int

// Envelope kinds.
const (
	KindRequest      Kind = 255657
	KindNotification Kind = 255658
	KindCommand      Kind = 255659
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindCommand:
		return "command"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindRequest || k == KindNotification || k == KindCommand
}

// Role identifies an endpoint.
type Role int

// Endpoint roles.
const (
	RoleMainHost   Role = 255650
	RoleController Role = 255651
	RoleCore       Role = 255652
)

func (r Role) String() string {
	switch r {
	case RoleMainHost:
		return "main_host"
	case RoleController:
		return "controller"
	case RoleCore:
		return "core"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleMainHost || r == RoleController || r == RoleCore
}

// ParseRole maps a role name as produced by Role.String back to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "main_host":
		return RoleMainHost, true
	case "controller":
		return RoleController, true
	case "core":
		return RoleCore, true
	default:
		return 0, false
	}
}

// TypeCode selects the operation carried by an envelope. Codes outside the
// built-in set belong to extensions.
type TypeCode int

// Built-in command codes.
const (
	CommandStart          TypeCode = 2556510
	CommandStop           TypeCode = 2556511
	CommandForceStop      TypeCode = 2556512
	CommandSendMessage    TypeCode = 2556513
	CommandRecallMessage  TypeCode = 2556514
	CommandRefreshMessage TypeCode = 2556515
	CommandGetState       TypeCode = 2556516
)

// Built-in notification codes.
const (
	NotificationStateUpdate    TypeCode = 2556520
	NotificationMainHostLaunch TypeCode = 2556521
	NotificationUploadProgress TypeCode = 2556522
)

// Built-in request codes.
const (
	RequestReceiveMessage TypeCode = 2556530
	RequestSyncMessage    TypeCode = 2556531
)

var typeCodeNames = map[TypeCode]string{
	CommandStart:               "start",
	CommandStop:                "stop",
	CommandForceStop:           "force_stop",
	CommandSendMessage:         "send_message",
	CommandRecallMessage:       "recall_message",
	CommandRefreshMessage:      "refresh_message",
	CommandGetState:            "get_state",
	NotificationStateUpdate:    "state_update",
	NotificationMainHostLaunch: "main_host_launch",
	NotificationUploadProgress: "upload_progress",
	RequestReceiveMessage:      "receive_message",
	RequestSyncMessage:         "sync_message",
}

func (t TypeCode) String() string {
	if name, ok := typeCodeNames[t]; ok {
		return name
	}

	return "custom(" + strconv.Itoa(int(t)) + ")"
}

// Builtin reports whether t is a reserved protocol code.
func (t TypeCode) Builtin() bool {
	_, ok := typeCodeNames[t]

	return ok
}

// ErrorCode explains a failed acknowledgement.
type ErrorCode int

// Error codes.
const (
	CodeTimeout          ErrorCode = 2556560
	CodeDisconnected     ErrorCode = 2556561
	CodeRepeatedCall     ErrorCode = 2556562
	CodeResourceNotFound ErrorCode = 2556563
	CodeSendFailed       ErrorCode = 2556564
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTimeout:
		return "timeout"
	case CodeDisconnected:
		return "disconnected"
	case CodeRepeatedCall:
		return "repeated_call"
	case CodeResourceNotFound:
		return "resource_not_found"
	case CodeSendFailed:
		return "send_failed"
	default:
		return "error(" + strconv.Itoa(int(c)) + ")"
	}
}

// State is the lifecycle state of a core endpoint.
type State int

// Endpoint states.
const (
	StateStopped State = 2556570
	StatePaused  State = 2556571
	StateError   State = 2556572
	StateLoading State = 2556573
	StateRunning State = 2556574
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s >= StateStopped && s <= StateRunning
}
