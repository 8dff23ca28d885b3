package publisher

// Operation is the mutation kind carried by a change event
type Operation string

const (
	OpPut    Operation = "put"
	OpDelete Operation = "delete"
)

// Origin tells whether the mutation was accepted from a client on the leader
// or applied from the leader's replication stream
const (
	OriginClient     = "client"
	OriginReplicated = "replicated"
)

// ChangeEvent is one applied mutation
type ChangeEvent struct {
	SeqNum    uint64    `json:"seq"`             // Assigned by PublishLog
	Identity  string    `json:"block"`           // Block the key belongs to
	Origin    string    `json:"origin"`          // OriginClient or OriginReplicated
	Operation Operation `json:"op"`              // OpPut or OpDelete
	Key       string    `json:"key"`             // Affected key
	Value     string    `json:"value,omitempty"` // Empty for deletes
	CommitTS  int64     `json:"ts"`              // Unix milliseconds
}

// Sink is a change feed destination
type Sink interface {
	// Publish sends value under key to topic; nil value is a tombstone
	Publish(topic string, key string, value []byte) error
	Close() error
}

// Transformer encodes events for a sink
type Transformer interface {
	Transform(event ChangeEvent) ([]byte, error)
	// Tombstone returns the marker published after a delete; ok is false when
	// the format sends none. A nil marker is a Kafka compaction tombstone.
	Tombstone(key string) (marker []byte, ok bool)
}

// Filter decides whether an event is published
type Filter interface {
	Match(origin, key string) bool
}
