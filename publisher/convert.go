package publisher

import (
	"time"

	"github.com/maxpert/ringkv/protocol"
)

// EventFromCommand builds the change event for an applied write. ok is false
// for commands that do not mutate the store.
func EventFromCommand(identity string, cmd protocol.Command, at time.Time) (ChangeEvent, bool) {
	event := ChangeEvent{
		Identity: identity,
		Origin:   OriginClient,
		Key:      cmd.Key,
		CommitTS: at.UnixMilli(),
	}
	if cmd.IsReplicated() {
		event.Origin = OriginReplicated
	}

	switch cmd.Name {
	case protocol.CmdPut, protocol.CmdReplicatePut:
		event.Operation = OpPut
		event.Value = cmd.Value
	case protocol.CmdDelete, protocol.CmdReplicateDelete:
		event.Operation = OpDelete
	default:
		return ChangeEvent{}, false
	}
	return event, true
}
