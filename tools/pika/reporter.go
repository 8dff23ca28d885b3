package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints progress every second
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			fmt.Printf("[%5.0fs] ops/sec: %6d | total: %8d | errors: %4d | retries: %4d | throughput: %.1f ops/sec\n",
				elapsed.Seconds(),
				snapshot.Ops-last.Ops,
				snapshot.Ops,
				snapshot.Errors,
				snapshot.Retries,
				float64(snapshot.Ops)/elapsed.Seconds(),
			)
			last = snapshot
		}
	}
}
