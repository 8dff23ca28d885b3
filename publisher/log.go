package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/maxpert/ringkv/encoding"
	"github.com/rs/zerolog/log"
)

// Key layout
const (
	prefixPubLog    = "/publog/"    // /publog/{seq:016x} -> msgpack(ChangeEvent)
	prefixPubCursor = "/pubcursor/" // /pubcursor/{sink} -> uint64
	keyPubSeq       = "/pubseq"     // last assigned sequence
)

const (
	diskMemTableSize            = 64 << 20
	memoryMemTableSize          = 4 << 20
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20
	maxConcurrentCompactions    = 3
)

const (
	defaultReadLimit    = 100
	cleanupIntervalMask = 0x7F // every 128 sequences
)

// ErrLogClosed is returned by operations on a closed log
var ErrLogClosed = errors.New("publish log is closed")

// PublishLog is a Pebble-backed append-only log of change events with one
// consumption cursor per sink. Entries below the slowest cursor are removed
// periodically.
type PublishLog struct {
	db   *pebble.DB
	path string

	appendMu sync.Mutex
	nextSeq  atomic.Uint64

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// NewPublishLog opens the log under dataDir/publish_log. An empty dataDir
// keeps the log in memory; it is then lost with the process like the store.
func NewPublishLog(dataDir string) (*PublishLog, error) {
	if dataDir == "" {
		return openPublishLog("publish_log", vfs.NewMem())
	}
	return openPublishLog(filepath.Join(dataDir, "publish_log"), vfs.Default)
}

func openPublishLog(path string, fs vfs.FS) (*PublishLog, error) {
	opts := &pebble.Options{
		FS:                          fs,
		MemTableSize:                diskMemTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}
	if fs != vfs.Default {
		opts.MemTableSize = memoryMemTableSize
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open publish log at %s: %w", path, err)
	}

	pl := &PublishLog{
		db:      db,
		path:    path,
		cursors: make(map[string]uint64),
	}

	if err := pl.loadNextSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := pl.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return pl, nil
}

func (pl *PublishLog) loadNextSeq() error {
	val, closer, err := pl.db.Get([]byte(keyPubSeq))
	if errors.Is(err, pebble.ErrNotFound) {
		pl.nextSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	pl.nextSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (pl *PublishLog) loadCursors() error {
	prefix := []byte(prefixPubCursor)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		sink := string(iter.Key()[len(prefixPubCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s: length %d", sink, len(val))
		}
		pl.cursors[sink] = binary.LittleEndian.Uint64(val)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(pl.cursors) > 0 {
		log.Info().Int("cursors", len(pl.cursors)).Msg("Loaded publish log cursors")
	}
	return nil
}

// Append stores events and assigns their SeqNum in place
func (pl *PublishLog) Append(events []ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	seq := pl.nextSeq.Load()
	batch := pl.db.NewBatch()
	defer batch.Close()

	for i := range events {
		seq++
		events[i].SeqNum = seq

		val, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := batch.Set([]byte(formatPubLogKey(seq)), val, nil); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(keyPubSeq), seqBuf, nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	pl.nextSeq.Store(seq)
	return nil
}

// LastSeq returns the highest assigned sequence number
func (pl *PublishLog) LastSeq() uint64 {
	return pl.nextSeq.Load()
}

// ReadFrom returns up to limit events after cursor
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]ChangeEvent, error) {
	if pl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	startKey := []byte(formatPubLogKey(cursor + 1))
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: startKey,
		UpperBound: prefixUpperBound([]byte(prefixPubLog)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]ChangeEvent, 0, limit)
	for iter.SeekGE(startKey); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var event ChangeEvent
		if err := encoding.Unmarshal(val, &event); err != nil {
			log.Warn().Err(err).Str("entry", string(iter.Key())).Msg("Skipping undecodable change event")
			continue
		}
		events = append(events, event)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return events, nil
}

// GetCursor returns the last sequence consumed by sink, 0 for a new sink
func (pl *PublishLog) GetCursor(sink string) (uint64, error) {
	if pl.closed.Load() {
		return 0, ErrLogClosed
	}

	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()
	return pl.cursors[sink], nil
}

// AdvanceCursor records that sink consumed everything up to seq
func (pl *PublishLog) AdvanceCursor(sink string, seq uint64) error {
	if pl.closed.Load() {
		return ErrLogClosed
	}

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, seq)
	if err := pl.db.Set([]byte(prefixPubCursor+sink), val, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	pl.cursorsMu.Lock()
	pl.cursors[sink] = seq
	pl.cursorsMu.Unlock()

	if seq&cleanupIntervalMask == 0 && pl.cleanupRunning.CompareAndSwap(false, true) {
		pl.cleanupWg.Add(1)
		go func() {
			defer pl.cleanupWg.Done()
			defer pl.cleanupRunning.Store(false)
			pl.cleanup()
		}()
	}

	return nil
}

// cleanup removes entries every sink has consumed
func (pl *PublishLog) cleanup() {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()

	if pl.closed.Load() {
		return
	}

	pl.cursorsMu.RLock()
	if len(pl.cursors) == 0 {
		pl.cursorsMu.RUnlock()
		return
	}
	minCursor := ^uint64(0)
	for _, c := range pl.cursors {
		if c < minCursor {
			minCursor = c
		}
	}
	pl.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}

	// Entries up to and including minCursor are consumed
	end := []byte(formatPubLogKey(minCursor + 1))
	if err := pl.db.DeleteRange([]byte(prefixPubLog), end, pebble.NoSync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to clean up publish log")
		return
	}

	log.Debug().Uint64("min_cursor", minCursor).Msg("Cleaned up publish log")
}

// Close waits for in-flight cleanup and closes Pebble
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	pl.cleanupWg.Wait()
	return pl.db.Close()
}

func formatPubLogKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixPubLog, seq)
}

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
