package protocol

import "fmt"

// ErrorKind classifies an error reply
type ErrorKind int

const (
	// KindFormat is a line without a key, or a write without a value
	KindFormat ErrorKind = iota + 1
	// KindUnknown is an unrecognized command name
	KindUnknown
	// KindFenced is a write sent to a node that does not lead the key's block
	KindFenced
	// KindNoOwner is a write arriving while the ring is empty
	KindNoOwner
	// KindLookup is a coordination failure while resolving the leader
	KindLookup
)

func (k ErrorKind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindUnknown:
		return "unknown"
	case KindFenced:
		return "fenced"
	case KindNoOwner:
		return "no_owner"
	case KindLookup:
		return "lookup"
	default:
		return "error"
	}
}

// Error is sent to the client as "ERROR: <message>"
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return ErrorPrefix + e.Message
}

// Reply renders the wire form
func (e *Error) Reply() string {
	return e.Error()
}

// NewError creates an error reply
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidFormat is a line with no key
func ErrInvalidFormat() *Error {
	return NewError(KindFormat, "Invalid command format")
}

// ErrUnknownCommand is an unrecognized command name
func ErrUnknownCommand() *Error {
	return NewError(KindUnknown, "Unknown command")
}

// ErrMissingValue is a PUT style command without a value
func ErrMissingValue(name CommandName) *Error {
	return NewError(KindFormat, "%s requires key and value", name)
}

// ErrNoOwner is returned for writes while no block has a leader
func ErrNoOwner(key string) *Error {
	return NewError(KindNoOwner, "No owner for key %s", key)
}

// ErrLeaderLookup is returned when the leader of the owning block could not be read
func ErrLeaderLookup(key string) *Error {
	return NewError(KindLookup, "Leader lookup failed for key %s", key)
}

// ErrNotLeader names the node rejecting the write and the key
func ErrNotLeader(address, identity, key string) *Error {
	return NewError(KindFenced, "Node %s (%s) is not the leader for key %s", address, identity, key)
}
