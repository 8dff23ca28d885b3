// Package transformer encodes change events for sinks.
package transformer

import (
	"encoding/json"

	"github.com/maxpert/ringkv/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewJSONTransformer()
	})
}

// Envelope is the wire shape shared by the json and msgpack formats. It
// follows the Debezium layout (before/after/op/source/ts_ms) so existing
// consumers can read it; before is not tracked and always null.
type Envelope struct {
	Before *Row   `json:"before"`
	After  *Row   `json:"after"`
	Op     string `json:"op"`
	Source Source `json:"source"`
	TsMs   int64  `json:"ts_ms"`
}

// Row is the key/value pair after the mutation
type Row struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Source describes where the mutation was applied
type Source struct {
	Connector string `json:"connector"`
	Block     string `json:"block"`
	Origin    string `json:"origin"`
	Seq       uint64 `json:"seq"`
}

// NewEnvelope converts event. Puts map to "u" since the store cannot tell
// creates from updates; deletes map to "d".
func NewEnvelope(event publisher.ChangeEvent) Envelope {
	env := Envelope{
		Op: "u",
		Source: Source{
			Connector: "ringkv",
			Block:     event.Identity,
			Origin:    event.Origin,
			Seq:       event.SeqNum,
		},
		TsMs: event.CommitTS,
	}
	if event.Operation == publisher.OpDelete {
		env.Op = "d"
	} else {
		env.After = &Row{Key: event.Key, Value: event.Value}
	}
	return env
}

// JSONTransformer encodes events as JSON envelopes and emits Kafka-style
// null tombstones after deletes
type JSONTransformer struct{}

// NewJSONTransformer creates a JSON transformer
func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{}
}

// Transform encodes event
func (t *JSONTransformer) Transform(event publisher.ChangeEvent) ([]byte, error) {
	return json.Marshal(NewEnvelope(event))
}

// Tombstone returns a nil marker
func (t *JSONTransformer) Tombstone(key string) ([]byte, bool) {
	return nil, true
}
