package transformer

import (
	"github.com/maxpert/ringkv/encoding"
	"github.com/maxpert/ringkv/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return NewMsgpackTransformer()
	})
}

// MsgpackTransformer encodes the same envelope as JSONTransformer in msgpack
type MsgpackTransformer struct{}

// NewMsgpackTransformer creates a msgpack transformer
func NewMsgpackTransformer() *MsgpackTransformer {
	return &MsgpackTransformer{}
}

// Transform encodes event
func (t *MsgpackTransformer) Transform(event publisher.ChangeEvent) ([]byte, error) {
	return encoding.Marshal(NewEnvelope(event))
}

// Tombstone returns a nil marker
func (t *MsgpackTransformer) Tombstone(key string) ([]byte, bool) {
	return nil, true
}
