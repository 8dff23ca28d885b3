package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/ringkv/protocol"
	"github.com/maxpert/ringkv/telemetry"
	"github.com/rs/zerolog/log"
)

// deliver sends one command with bounded retries. Failure is logged, never
// returned.
func (p *peer) deliver(ctx context.Context, item queued) {
	defer func() {
		telemetry.ReplicationDeliverySeconds.Observe(time.Since(item.enqueued).Seconds())
	}()

	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err = p.send(ctx, item.cmd); err == nil {
			telemetry.ReplicationAttemptsTotal.With("success").Inc()
			p.delivered.Add(1)
			return
		}

		telemetry.ReplicationAttemptsTotal.With("failed").Inc()
		log.Warn().
			Err(err).
			Str("replica", p.addr).
			Str("command", string(item.cmd.Name)).
			Str("key", item.cmd.Key).
			Int("attempt", attempt).
			Msg("Replication attempt failed")

		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.Backoff):
		}
	}

	telemetry.ReplicationDroppedTotal.With("retries_exhausted").Inc()
	log.Error().
		Err(err).
		Str("replica", p.addr).
		Str("command", string(item.cmd.Name)).
		Str("key", item.cmd.Key).
		Int("attempts", p.cfg.MaxAttempts).
		Msg("Replication failed after retries, replica is behind")
}

// send delivers cmd over a fresh connection and waits for the acknowledgement
func (p *peer) send(ctx context.Context, cmd protocol.Command) error {
	client, err := protocol.Dial(ctx, p.addr, p.cfg.DialTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	client.SetTimeout(p.cfg.IOTimeout)
	reply, err := client.Send(cmd)
	if err != nil {
		return err
	}
	if reply != protocol.ReplyReplicated {
		return fmt.Errorf("unexpected reply %q", reply)
	}
	return nil
}
