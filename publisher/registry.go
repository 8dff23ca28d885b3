package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/ringkv/cfg"
	"github.com/maxpert/ringkv/encoding"
	"github.com/maxpert/ringkv/notify"
	"github.com/maxpert/ringkv/protocol"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the change feed
type RegistryConfig struct {
	DataDir     string // Empty keeps the publish log in memory
	Identity    string // Block recorded on every event
	SinkConfigs []cfg.SinkConfiguration
}

// Registry owns the publish log and one worker per sink. It records every
// applied mutation handed to it by the command router.
type Registry struct {
	identity string
	log      *PublishLog
	hub      *notify.Hub
	workers  []*Worker
	running  atomic.Bool
	mu       sync.Mutex
}

// NewRegistry opens the publish log and creates the configured sinks
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Identity == "" {
		return nil, fmt.Errorf("identity is required")
	}

	pubLog, err := NewPublishLog(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish log: %w", err)
	}

	r := &Registry{
		identity: config.Identity,
		log:      pubLog,
		hub:      notify.NewHub(),
		workers:  make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := r.AddSink(sinkCfg); err != nil {
			r.closeSinks()
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("sinks", len(r.workers)).
		Bool("in_memory", config.DataDir == "").
		Msg("Change feed initialized")

	return r, nil
}

// AddSink creates the sink, transformer and filter described by config
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	format := config.Format
	if format == "" {
		format = "json"
	}
	trans, err := createTransformer(format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterKeys, config.FilterOrigins)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	var compressor *encoding.Compressor
	switch config.Compression {
	case encoding.CompressionNone:
	case encoding.CompressionZstd:
		compressor = encoding.NewCompressor(config.CompressionLevel)
	default:
		snk.Close()
		return fmt.Errorf("unknown compression: %s", config.Compression)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		Compressor:      compressor,
		Hub:             r.hub,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.mu.Lock()
	r.workers = append(r.workers, worker)
	running := r.running.Load()
	r.mu.Unlock()
	if running {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", format).
		Str("compression", config.Compression).
		Msg("Added change feed sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop stops workers, closes sinks and the publish log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	for _, w := range r.workers {
		w.Stop()
	}
	r.hub.Close()
	r.closeSinks()
	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}

	log.Info().Msg("Change feed stopped")
}

// Record appends the mutation cmd applied locally. Errors are logged; the
// command reply has already been sent.
func (r *Registry) Record(cmd protocol.Command) {
	if !r.running.Load() {
		return
	}

	event, ok := EventFromCommand(r.identity, cmd, time.Now())
	if !ok {
		return
	}

	events := []ChangeEvent{event}
	if err := r.log.Append(events); err != nil {
		log.Error().Err(err).Str("key", cmd.Key).Str("command", string(cmd.Name)).Msg("Failed to append change event")
		return
	}

	telemetry.ChangeEventsTotal.With(event.Origin).Inc()
	r.hub.Signal(event.Origin, events[0].SeqNum)
}

// LastSeq returns the newest sequence number in the log
func (r *Registry) LastSeq() uint64 {
	return r.log.LastSeq()
}

// Cursors returns each sink's consumed sequence number
func (r *Registry) Cursors() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]uint64, len(r.workers))
	for _, w := range r.workers {
		c, err := r.log.GetCursor(w.Name())
		if err != nil {
			continue
		}
		out[w.Name()] = c
	}
	return out
}

func (r *Registry) closeSinks() {
	for _, w := range r.workers {
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.Name()).Msg("Failed to close sink")
		}
	}
}

// SinkFactory creates a Sink from configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, ok := transformerFactories[format]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
