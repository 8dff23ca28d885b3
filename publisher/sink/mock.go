package sink

import (
	"sync"

	"github.com/maxpert/ringkv/cfg"
	"github.com/maxpert/ringkv/publisher"
)

var mocks sync.Map // sink name -> *MockSink

func init() {
	publisher.RegisterSink("mock", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		m := &MockSink{}
		mocks.Store(config.Name, m)
		return m, nil
	})
}

// LookupMock returns the MockSink created for a "mock" sink configuration
func LookupMock(name string) (*MockSink, bool) {
	v, ok := mocks.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*MockSink), true
}

// MockSink records published messages in memory
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	mu         sync.Mutex
}

// MockMessage is one recorded publish
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// Publish records the message or returns PublishErr
func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

// Snapshot returns a copy of the recorded messages
func (m *MockSink) Snapshot() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.Messages...)
}

// SetError makes later publishes fail with err, nil to recover
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishErr = err
}

// Close is a no-op
func (m *MockSink) Close() error {
	return nil
}

// Reset clears recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
