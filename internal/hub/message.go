package hub

import (
	"encoding/json"
	"fmt"

	"richtext-ot/internal/operations"
)

// MessageType represents the kind of message being sent
type MessageType string

const (
	MsgTypeOperation MessageType = "operation"  // OT operation, in either direction
	MsgTypeAck       MessageType = "ack"        // Sender's operation was applied
	MsgTypeSnapshot  MessageType = "snapshot"   // Full document state
	MsgTypeCursor    MessageType = "cursor"     // Caret update or cursor table
	MsgTypeUserCount MessageType = "user_count" // System message for user count
	MsgTypeError     MessageType = "error"
)

// Message is the WebSocket protocol between editors and the hub.
//
// Version is the base version on an operation sent by a client, and the
// version the operation produced on acks and on operations relayed by the
// hub. On snapshots it is the snapshot's version.
type Message struct {
	Type        MessageType     `json:"type"`
	DocumentID  string          `json:"document_id,omitempty"`
	ClientID    string          `json:"client_id,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
	Version     int             `json:"version,omitempty"`
	Operation   operations.Op   `json:"operation,omitempty"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
	Cursor      int             `json:"cursor,omitempty"`
	Cursors     map[string]int  `json:"cursors,omitempty"`
	UserCount   int             `json:"user_count,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewOperationMessage creates the message relaying an applied operation.
func NewOperationMessage(documentID, clientID, operationID string, version int, op operations.Op) *Message {
	return &Message{
		Type:        MsgTypeOperation,
		DocumentID:  documentID,
		ClientID:    clientID,
		OperationID: operationID,
		Version:     version,
		Operation:   op,
	}
}

// NewAckMessage confirms an operation to its sender.
func NewAckMessage(operationID string, version int) *Message {
	return &Message{
		Type:        MsgTypeAck,
		OperationID: operationID,
		Version:     version,
	}
}

// NewSnapshotMessage carries a serialized document tree.
func NewSnapshotMessage(documentID string, snapshot []byte, version int, cursors map[string]int) *Message {
	return &Message{
		Type:       MsgTypeSnapshot,
		DocumentID: documentID,
		Snapshot:   snapshot,
		Version:    version,
		Cursors:    cursors,
	}
}

// NewCursorsMessage carries every known caret on a document.
func NewCursorsMessage(documentID string, cursors map[string]int) *Message {
	return &Message{
		Type:       MsgTypeCursor,
		DocumentID: documentID,
		Cursors:    cursors,
	}
}

// NewUserCountMessage creates a user count system message.
func NewUserCountMessage(count int) *Message {
	return &Message{
		Type:      MsgTypeUserCount,
		UserCount: count,
	}
}

// NewErrorMessage reports a rejected request back to its sender.
func NewErrorMessage(err error) *Message {
	return &Message{
		Type:  MsgTypeError,
		Error: err.Error(),
	}
}

// ToBytes serializes the message to JSON bytes.
func (m *Message) ToBytes() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// MessageFromBytes deserializes a message from JSON bytes.
func MessageFromBytes(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}
