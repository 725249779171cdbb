// Package bus delivers status messages from the running graph to whoever
// drives the session, without coupling the publishers to the consumers.
package bus

import (
	"fmt"
	"time"
)

// MessageType identifies the kind of a bus message.
type MessageType uint8

const (
	// MessageEOS signals that the live source reached end of stream.
	MessageEOS MessageType = iota + 1
	// MessageError reports a fatal runtime error.
	MessageError
	// MessageWarning reports a recoverable problem.
	MessageWarning
	// MessageStateChanged reports a pipeline or element state transition.
	MessageStateChanged
	// MessageApplication carries a named application event.
	MessageApplication
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	case MessageStateChanged:
		return "state-changed"
	case MessageApplication:
		return "application"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Message is a single bus event. Only the fields relevant to Type are set.
type Message struct {
	Type   MessageType
	Source string
	Time   time.Time

	// Error and warning payload.
	Err   error
	Debug string

	// State change payload.
	OldState     string
	NewState     string
	PendingState string

	// Application payload.
	Name   string
	Fields map[string]interface{}
}

// NewEOS creates an end-of-stream message.
func NewEOS(source string) Message {
	return Message{Type: MessageEOS, Source: source, Time: time.Now()}
}

// NewError creates an error message.
func NewError(source string, err error, debug string) Message {
	return Message{Type: MessageError, Source: source, Err: err, Debug: debug, Time: time.Now()}
}

// NewWarning creates a warning message.
func NewWarning(source string, err error, debug string) Message {
	return Message{Type: MessageWarning, Source: source, Err: err, Debug: debug, Time: time.Now()}
}

// NewStateChanged creates a state-changed message.
func NewStateChanged(source, oldState, newState, pending string) Message {
	return Message{
		Type:         MessageStateChanged,
		Source:       source,
		OldState:     oldState,
		NewState:     newState,
		PendingState: pending,
		Time:         time.Now(),
	}
}

// NewApplication creates a named application message.
func NewApplication(source, name string, fields map[string]interface{}) Message {
	return Message{Type: MessageApplication, Source: source, Name: name, Fields: fields, Time: time.Now()}
}

// Terminal reports whether the message ends the session.
func (m Message) Terminal() bool {
	return m.Type == MessageEOS || m.Type == MessageError
}

// String renders the message for logs.
func (m Message) String() string {
	switch m.Type {
	case MessageError, MessageWarning:
		return fmt.Sprintf("%s from %s: %v", m.Type, m.Source, m.Err)
	case MessageStateChanged:
		return fmt.Sprintf("%s from %s: %s -> %s (pending %s)", m.Type, m.Source, m.OldState, m.NewState, m.PendingState)
	case MessageApplication:
		return fmt.Sprintf("%s %q from %s", m.Type, m.Name, m.Source)
	default:
		return fmt.Sprintf("%s from %s", m.Type, m.Source)
	}
}
