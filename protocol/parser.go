// Package protocol implements the line oriented command protocol: parsing,
// leader fenced dispatch, the TCP server and a small client.
//
// Every request is one line "COMMAND KEY [VALUE]" terminated by '\n'. The
// value is the remainder of the line and may contain spaces. Every request
// gets exactly one reply line.
package protocol

import (
	"strings"
)

// CommandName is an upper-cased command
type CommandName string

const (
	CmdPut             CommandName = "PUT"
	CmdGet             CommandName = "GET"
	CmdDelete          CommandName = "DELETE"
	CmdReplicatePut    CommandName = "REPLICATE_PUT"
	CmdReplicateDelete CommandName = "REPLICATE_DELETE"
)

// Reply lines
const (
	ReplyOK         = "OK"
	ReplyNull       = "NULL"
	ReplyReplicated = "REPLICATED"
	ErrorPrefix     = "ERROR: "
)

// Command is one parsed request line
type Command struct {
	Name  CommandName
	Key   string
	Value string
}

// IsReplicated reports whether the command came from a leader's replication
func (c Command) IsReplicated() bool {
	return c.Name == CmdReplicatePut || c.Name == CmdReplicateDelete
}

// Replicated returns the form of a client write sent to replicas
func (c Command) Replicated() Command {
	switch c.Name {
	case CmdPut:
		c.Name = CmdReplicatePut
	case CmdDelete:
		c.Name = CmdReplicateDelete
	}
	return c
}

// String renders the command as a request line (without newline)
func (c Command) String() string {
	switch c.Name {
	case CmdPut, CmdReplicatePut:
		return string(c.Name) + " " + c.Key + " " + c.Value
	default:
		return string(c.Name) + " " + c.Key
	}
}

// ParseCommand parses a request line. The command name is case-insensitive
// and a trailing '\r' is ignored.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSuffix(line, "\r")

	parts := strings.SplitN(line, " ", 3)
	if parts[0] == "" {
		return Command{}, ErrInvalidFormat()
	}

	name := CommandName(strings.ToUpper(parts[0]))
	switch name {
	case CmdPut, CmdReplicatePut, CmdGet, CmdDelete, CmdReplicateDelete:
	default:
		return Command{}, ErrUnknownCommand()
	}

	if len(parts) < 2 || parts[1] == "" {
		return Command{}, ErrInvalidFormat()
	}
	cmd := Command{Name: name, Key: parts[1]}

	if name == CmdPut || name == CmdReplicatePut {
		if len(parts) < 3 {
			return Command{}, ErrMissingValue(name)
		}
		cmd.Value = parts[2]
	}
	return cmd, nil
}

// PutCommand builds a client PUT
func PutCommand(key, value string) Command {
	return Command{Name: CmdPut, Key: key, Value: value}
}

// GetCommand builds a GET
func GetCommand(key string) Command {
	return Command{Name: CmdGet, Key: key}
}

// DeleteCommand builds a client DELETE
func DeleteCommand(key string) Command {
	return Command{Name: CmdDelete, Key: key}
}

// ReplicatePutCommand builds the replica form of a PUT
func ReplicatePutCommand(key, value string) Command {
	return Command{Name: CmdReplicatePut, Key: key, Value: value}
}

// ReplicateDeleteCommand builds the replica form of a DELETE
func ReplicateDeleteCommand(key string) Command {
	return Command{Name: CmdReplicateDelete, Key: key}
}
