package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/ringkv/coord"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"
)

// WatchLeadership calls onLeaderGone whenever the leadership record of
// identity is found missing: synchronously if it is absent when the watch is
// first armed, then on every deletion observed afterwards. The watch re-arms
// after every event until ctx is done or the session is closed.
//
// Only the initial arm error is returned. Later coordination errors are
// logged and retried every WatchRetry. While the record stays absent,
// onLeaderGone is repeated no more often than every WatchRetry.
func (m *Manager) WatchLeadership(ctx context.Context, identity string, onLeaderGone func()) error {
	p := m.leaderPath(identity)
	exists, ch, err := m.client.ExistsW(p)
	if err != nil {
		telemetry.CoordinationErrorsTotal.With("watch_leadership").Inc()
		return fmt.Errorf("failed to watch %s: %w", p, err)
	}

	w := &leadershipWatch{
		m:            m,
		path:         p,
		identity:     identity,
		onLeaderGone: onLeaderGone,
	}
	if !exists {
		w.fire(ctx)
	}

	go w.run(ctx, ch, !exists)
	return nil
}

type leadershipWatch struct {
	m            *Manager
	path         string
	identity     string
	onLeaderGone func()
	lastFire     time.Time
}

// fire invokes the callback, keeping consecutive invocations at least
// WatchRetry apart. Returns false if ctx ended while waiting.
func (w *leadershipWatch) fire(ctx context.Context) bool {
	if !w.lastFire.IsZero() {
		if wait := w.m.watchRetry - time.Since(w.lastFire); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return false
			}
		}
	}
	w.lastFire = time.Now()

	log.Info().Str("block", w.identity).Msg("Leader gone, attempting election")
	w.onLeaderGone()
	return true
}

func (w *leadershipWatch) run(ctx context.Context, ch <-chan coord.Event, absent bool) {
	for {
		// While absent, nothing may create the record, so poll as well
		var recheck <-chan time.Time
		var timer *time.Timer
		if absent {
			timer = time.NewTimer(w.m.watchRetry)
			recheck = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-ch:
			if !ok {
				ev = coord.Event{Type: coord.EventNotWatching, Err: coord.ErrClosed}
			}
			telemetry.WatchEventsTotal.With("leadership", ev.Type.String()).Inc()
			log.Debug().
				Str("block", w.identity).
				Str("event", ev.Type.String()).
				Msg("Leadership watch fired")

			if ev.Type == coord.EventNodeDeleted {
				if !w.fire(ctx) {
					return
				}
			}
		case <-recheck:
		}
		if timer != nil {
			timer.Stop()
		}

		exists, next, err := w.rearm(ctx)
		if err != nil {
			return
		}
		ch = next
		absent = !exists
		if absent && !w.fire(ctx) {
			return
		}
	}
}

// rearm retries ExistsW until it succeeds, ctx ends or the session is closed
func (w *leadershipWatch) rearm(ctx context.Context) (bool, <-chan coord.Event, error) {
	for {
		exists, ch, err := w.m.client.ExistsW(w.path)
		if err == nil {
			return exists, ch, nil
		}
		if errors.Is(err, coord.ErrClosed) {
			log.Debug().Str("block", w.identity).Msg("Session closed, leadership watch stopped")
			return false, nil, err
		}

		telemetry.CoordinationErrorsTotal.With("watch_leadership").Inc()
		log.Warn().Err(err).Str("path", w.path).Msg("Failed to re-arm leadership watch, retrying")
		if !sleepCtx(ctx, w.m.watchRetry) {
			return false, nil, ctx.Err()
		}
	}
}

// WatchLeaders calls onChange with the sorted leader identities once the
// watch is armed and again after every change to /leaders, until ctx is done
// or the session is closed. Callbacks run on a single goroutine.
func (m *Manager) WatchLeaders(ctx context.Context, onChange func(identities []string)) error {
	identities, ch, err := m.client.ChildrenW(m.paths.Leaders)
	if err != nil {
		telemetry.CoordinationErrorsTotal.With("watch_leaders").Inc()
		return fmt.Errorf("failed to watch %s: %w", m.paths.Leaders, err)
	}
	onChange(identities)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					ev = coord.Event{Type: coord.EventNotWatching}
				}
				telemetry.WatchEventsTotal.With("leaders", ev.Type.String()).Inc()
				log.Debug().Str("event", ev.Type.String()).Msg("Leader set watch fired")
			}

			for {
				identities, ch, err = m.client.ChildrenW(m.paths.Leaders)
				if err == nil {
					break
				}
				if errors.Is(err, coord.ErrClosed) {
					log.Debug().Msg("Session closed, leader set watch stopped")
					return
				}
				telemetry.CoordinationErrorsTotal.With("watch_leaders").Inc()
				log.Warn().Err(err).Str("path", m.paths.Leaders).Msg("Failed to re-arm leader set watch, retrying")
				if !sleepCtx(ctx, m.watchRetry) {
					return
				}
			}
			onChange(identities)
		}
	}()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
