package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/ringkv/encoding"
	"github.com/maxpert/ringkv/notify"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
	DefaultTopicPrefix     = "ringkv"
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string
	Log             *PublishLog
	Sink            Sink
	Transformer     Transformer
	Filter          Filter
	Compressor      *encoding.Compressor // nil publishes uncompressed payloads
	Hub             *notify.Hub          // nil falls back to polling only
	TopicPrefix     string               // Topic is "{prefix}.{block}"
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int // Attempts per event before the batch is retried from the cursor
}

// Worker moves events from the publish log to a sink. Delivery is
// at-least-once: the cursor advances only after a successful publish.
type Worker struct {
	config      WorkerConfig
	cursor      uint64
	published   atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates config and positions the worker at its saved cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("publish log is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultTopicPrefix
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.GetCursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if cursor == 0 {
		if cursor, err = earliestCursor(config.Log); err != nil {
			return nil, fmt.Errorf("failed to find earliest entry: %w", err)
		}
	}

	return &Worker{
		config: config,
		cursor: cursor,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// earliestCursor positions a new sink just before the oldest retained entry
func earliestCursor(pubLog *PublishLog) (uint64, error) {
	events, err := pubLog.ReadFrom(0, 1)
	if err != nil || len(events) == 0 {
		return 0, err
	}
	return events[0].SeqNum - 1, nil
}

// Name returns the sink name
func (w *Worker) Name() string {
	return w.config.Name
}

// Published counts events delivered to the sink
func (w *Worker) Published() uint64 {
	return w.published.Load()
}

// Start runs the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	var wake <-chan notify.Signal
	cancel := func() {}
	if w.config.Hub != nil {
		var origins []string
		if gf, ok := w.config.Filter.(*GlobFilter); ok {
			origins = gf.Origins()
		}
		wake, cancel = w.config.Hub.Subscribe(notify.Filter{Origins: origins})
	}

	log.Info().
		Str("sink", w.config.Name).
		Uint64("cursor", w.cursor).
		Msg("Starting change feed worker")

	go w.pollLoop(wake, cancel)
}

// Stop stops the worker and waits for it to exit
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.cursor).Msg("Change feed worker stopped")
}

func (w *Worker) pollLoop(wake <-chan notify.Signal, cancel func()) {
	defer close(w.doneCh)
	defer cancel()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.cursor, w.config.BatchSize)
		if err != nil {
			log.Error().
				Err(err).
				Str("sink", w.config.Name).
				Uint64("cursor", w.cursor).
				Msg("Failed to read from publish log")
			w.sleep(w.config.PollInterval)
			continue
		}

		if len(events) == 0 {
			w.wait(wake)
			continue
		}

		for _, event := range events {
			if err := w.processEvent(event); err != nil {
				if errors.Is(err, errWorkerStopped) {
					return
				}
				log.Error().
					Err(err).
					Str("sink", w.config.Name).
					Uint64("seq", event.SeqNum).
					Msg("Failed to publish change event, retrying from cursor")
				w.sleep(w.config.RetryMax)
				break
			}
			w.cursor = event.SeqNum
		}
	}
}

// wait blocks until an append is signalled, the poll interval elapses or
// the worker stops
func (w *Worker) wait(wake <-chan notify.Signal) {
	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()

	select {
	case <-w.stopCh:
	case <-wake:
	case <-timer.C:
	}
}

func (w *Worker) processEvent(event ChangeEvent) error {
	if !w.config.Filter.Match(event.Origin, event.Key) {
		if err := w.config.Log.AdvanceCursor(w.config.Name, event.SeqNum); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Uint64("seq", event.SeqNum).Msg("Failed to advance cursor for filtered event")
		}
		return nil
	}

	data, err := w.config.Transformer.Transform(event)
	if err != nil {
		return fmt.Errorf("failed to transform event: %w", err)
	}
	if w.config.Compressor != nil {
		if data, err = w.config.Compressor.Compress(data); err != nil {
			return fmt.Errorf("failed to compress event: %w", err)
		}
	}

	topic := w.topic(event.Identity)
	if err := w.publishWithRetry(topic, event.Key, data); err != nil {
		return err
	}

	if event.Operation == OpDelete {
		if tombstone, ok := w.config.Transformer.Tombstone(event.Key); ok {
			if err := w.publishWithRetry(topic, event.Key, tombstone); err != nil {
				return err
			}
		}
	}

	w.published.Add(1)
	if err := w.config.Log.AdvanceCursor(w.config.Name, event.SeqNum); err != nil {
		log.Warn().
			Err(err).
			Str("sink", w.config.Name).
			Uint64("seq", event.SeqNum).
			Msg("Failed to advance cursor after publish, event may be redelivered")
	}
	return nil
}

func (w *Worker) topic(identity string) string {
	return w.config.TopicPrefix + "." + identity
}

// publishWithRetry retries with exponential backoff up to MaxRetries attempts
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial

	for attempt := 1; ; attempt++ {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			telemetry.PublishTotal.With(w.config.Name, "success").Inc()
			return nil
		}
		telemetry.PublishTotal.With(w.config.Name, "failed").Inc()

		if attempt >= w.config.MaxRetries {
			return fmt.Errorf("exhausted %d attempts for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("sink", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Failed to publish change event, retrying")

		if !w.sleep(delay) {
			return errWorkerStopped
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep returns false when the worker is stopped first
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
