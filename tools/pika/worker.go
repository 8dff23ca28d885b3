package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/ringkv/protocol"
)

// Router holds the current topology and refreshes it when a write is fenced
type Router struct {
	hosts   []string
	secret  string
	timeout time.Duration

	current atomic.Pointer[Topology]
	mu      sync.Mutex
}

func NewRouter(ctx context.Context, cfg *Config) (*Router, error) {
	r := &Router{hosts: cfg.HostList(), secret: cfg.Secret, timeout: cfg.Timeout}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Router) Topology() *Topology {
	return r.current.Load()
}

func (r *Router) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := Discover(ctx, r.hosts, r.secret, r.timeout)
	if err != nil {
		return err
	}
	r.current.Store(t)
	return nil
}

// errRouting marks replies that a fresh topology may fix
var errRouting = errors.New("routing")

func classifyReply(reply string) error {
	if !strings.HasPrefix(reply, protocol.ErrorPrefix) {
		return nil
	}
	if strings.Contains(reply, "is not the leader for key") ||
		strings.HasPrefix(reply, protocol.ErrorPrefix+"No owner for key") ||
		strings.HasPrefix(reply, protocol.ErrorPrefix+"Leader lookup failed") {
		return fmt.Errorf("%w: %s", errRouting, reply)
	}
	return errors.New(reply)
}

// Worker executes operations against the cluster
type Worker struct {
	id         int
	pool       *Pool
	router     *Router
	keyGen     *KeyGenerator
	opSelector *OpSelector
	stats      *Stats
	valueSize  int
	retry      bool
	maxRetries int
	rng        *rand.Rand
}

func NewWorker(id int, cfg *Config, pool *Pool, router *Router, keyGen *KeyGenerator, opSelector *OpSelector, stats *Stats) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		router:     router,
		keyGen:     keyGen,
		opSelector: opSelector,
		stats:      stats,
		valueSize:  cfg.ValueSize,
		retry:      cfg.Retry,
		maxRetries: cfg.MaxRetries,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// RunLoad writes keys [startKey, endKey)
func (w *Worker) RunLoad(ctx context.Context, startKey, endKey int, wg *sync.WaitGroup) {
	defer wg.Done()

	for i := startKey; i < endKey; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmd := protocol.PutCommand(w.keyGen.Key(i), generateValue(w.rng, w.valueSize))
		w.timed(ctx, OpWrite, cmd)
	}
}

// RunBenchmark executes one operation per token received from opsChan
func (w *Worker) RunBenchmark(ctx context.Context, opsChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-opsChan:
			if !ok {
				return
			}
			opType := w.opSelector.Select(w.rng)
			w.timed(ctx, opType, w.generateCommand(opType))
		}
	}
}

func (w *Worker) generateCommand(opType OpType) protocol.Command {
	key := w.keyGen.Random(w.rng)
	switch opType {
	case OpWrite:
		return protocol.PutCommand(key, generateValue(w.rng, w.valueSize))
	case OpDelete:
		return protocol.DeleteCommand(key)
	default:
		return protocol.GetCommand(key)
	}
}

func (w *Worker) timed(ctx context.Context, opType OpType, cmd protocol.Command) {
	start := time.Now()
	reply, err := w.executeWithRetry(ctx, cmd)
	latency := time.Since(start)

	if err != nil {
		w.stats.RecordError(opType)
		return
	}
	w.stats.RecordOp(opType, latency, reply == protocol.ReplyNull)
}

// executeWithRetry sends cmd to the leader of its key. Routing errors refresh
// the topology and retry up to maxRetries times.
func (w *Worker) executeWithRetry(ctx context.Context, cmd protocol.Command) (string, error) {
	for attempt := 0; ; attempt++ {
		addr, err := w.router.Topology().LeaderFor(cmd.Key)
		if err != nil {
			return "", err
		}

		reply, err := w.pool.Do(ctx, addr, cmd)
		if err == nil {
			err = classifyReply(reply)
		}
		if err == nil {
			return reply, nil
		}

		if !w.retry || attempt >= w.maxRetries || !errors.Is(err, errRouting) {
			return "", err
		}
		w.stats.RecordRetry()
		if rerr := w.router.Refresh(ctx); rerr != nil {
			return "", rerr
		}
	}
}

func executeLoad(ctx context.Context, cfg *Config) error {
	router, err := NewRouter(ctx, cfg)
	if err != nil {
		return err
	}
	pool := NewPool(cfg.Timeout, cfg.Threads)
	defer pool.Close()

	fmt.Printf("Loading %d records into %d blocks with %d threads\n", cfg.Records, router.Topology().Blocks(), cfg.Threads)

	keyGen := NewKeyGenerator(cfg.KeyPrefix, cfg.Records)
	stats := NewStats()
	reportCtx, stopReport := context.WithCancel(ctx)
	go reportProgress(reportCtx, stats)

	start := time.Now()
	var wg sync.WaitGroup
	per := (cfg.Records + cfg.Threads - 1) / cfg.Threads
	for i := 0; i < cfg.Threads; i++ {
		from, to := i*per, (i+1)*per
		if to > cfg.Records {
			to = cfg.Records
		}
		if from >= to {
			break
		}
		wg.Add(1)
		go NewWorker(i, cfg, pool, router, keyGen, nil, stats).RunLoad(ctx, from, to, &wg)
	}
	wg.Wait()
	stopReport()

	stats.PrintFinal(time.Since(start))
	return nil
}

func executeRun(ctx context.Context, cfg *Config) error {
	dist := cfg.GetWorkloadDistribution()
	if err := dist.Validate(); err != nil {
		return err
	}

	router, err := NewRouter(ctx, cfg)
	if err != nil {
		return err
	}
	pool := NewPool(cfg.Timeout, cfg.Threads)
	defer pool.Close()

	fmt.Printf("Running %s workload (GET %d%% PUT %d%% DELETE %d%%) against %d blocks\n",
		cfg.Workload, dist.Read, dist.Write, dist.Delete, router.Topology().Blocks())

	runCtx := ctx
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	keyGen := NewKeyGenerator(cfg.KeyPrefix, cfg.Records)
	selector := NewOpSelector(dist)
	stats := NewStats()
	reportCtx, stopReport := context.WithCancel(runCtx)
	go reportProgress(reportCtx, stats)

	opsChan := make(chan struct{}, cfg.Threads)
	go func() {
		defer close(opsChan)
		for i := 0; cfg.Duration > 0 || i < cfg.Operations; i++ {
			select {
			case <-runCtx.Done():
				return
			case opsChan <- struct{}{}:
			}
		}
	}()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		go NewWorker(i, cfg, pool, router, keyGen, selector, stats).RunBenchmark(runCtx, opsChan, &wg)
	}
	wg.Wait()
	stopReport()

	stats.PrintFinal(time.Since(start))
	return nil
}
