package message

import (
	"fmt"
	"strconv"
)

// SendTargetType tells whether a conversation is with a single user or a group.
type SendTargetType int

// Send target types.
const (
	SendTargetUser  SendTargetType = 0
	SendTargetGroup SendTargetType = 1
)

// Profile describes a message author or a conversation subject.
type Profile struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
	ID     *int64  `json:"id,omitempty"`
}

// PluginConnection identifies one conversation on one connection type.
type PluginConnection struct {
	ConnectionType int            `json:"connection_type"`
	SendTargetType SendTargetType `json:"send_target_type"`
	ID             int64          `json:"id"`
}

// ObjectID returns the decimal concatenation of connection type, send target
// type and id. Two connections are the same conversation iff their object ids match.
func (c PluginConnection) ObjectID() (int64, error) {
	return ObjectID(c.ConnectionType, c.SendTargetType, c.ID)
}

// Equal reports whether both connections address the same conversation.
func (c PluginConnection) Equal(other PluginConnection) bool {
	a, errA := c.ObjectID()
	b, errB := other.ObjectID()

	if errA != nil || errB != nil {
		return c == other
	}

	return a == b
}

// ObjectID builds an object id from its parts.
func ObjectID(connectionType int, sendTargetType SendTargetType, id int64) (int64, error) {
	s := fmt.Sprintf("%d%d%d", connectionType, sendTargetType, id)

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("build object id %q: %w", s, err)
	}

	return n, nil
}

// SendTargetTypeOf extracts the send target type from an object id, given the
// number of decimal digits in the connection type.
func SendTargetTypeOf(objectID int64, connectionTypeLength int) (SendTargetType, error) {
	s := strconv.FormatInt(objectID, 10)
	if connectionTypeLength < 0 || connectionTypeLength >= len(s) {
		return 0, fmt.Errorf("object id %d too short for connection type length %d", objectID, connectionTypeLength)
	}

	d := s[connectionTypeLength]
	if d < '0' || d > '9' {
		return 0, fmt.Errorf("object id %d: invalid digit at %d", objectID, connectionTypeLength)
	}

	return SendTargetType(d - '0'), nil
}

// IDOf extracts the conversation id from an object id, given the number of
// decimal digits in the connection type.
func IDOf(objectID int64, connectionTypeLength int) (int64, error) {
	s := strconv.FormatInt(objectID, 10)
	if connectionTypeLength < 0 || connectionTypeLength+1 >= len(s) {
		return 0, fmt.Errorf("object id %d too short for connection type length %d", objectID, connectionTypeLength)
	}

	return strconv.ParseInt(s[connectionTypeLength+1:], 10, 64)
}

// SendMessageDto is a message the main host asks the core to deliver.
type SendMessageDto struct {
	Contents         Contents         `json:"contents"`
	Timestamp        int64            `json:"timestamp"`
	PluginConnection PluginConnection `json:"plugin_connection"`
	MessageID        *int64           `json:"message_id,omitempty"`
}

// ReceiveMessageDto is a message the core pushes to the main host.
type ReceiveMessageDto struct {
	Contents         Contents         `json:"contents"`
	Profile          Profile          `json:"profile"`
	SubjectProfile   Profile          `json:"subject_profile"`
	Timestamp        int64            `json:"timestamp"`
	MessageID        *int64           `json:"message_id,omitempty"`
	PluginConnection PluginConnection `json:"plugin_connection"`
}
