package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints real-time progress every second.
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

			fmt.Printf("[%5.0fs] callbacks/sec: %6d | accounts: %8d | slots: %6d | txs: %7d | errors: %4d | throughput: %.1f/sec\n",
				elapsed.Seconds(),
				snapshot.Total()-last.Total(),
				snapshot.AccountOps,
				snapshot.SlotOps,
				snapshot.TransactionOps,
				snapshot.Errors,
				float64(snapshot.Total())/elapsed.Seconds(),
			)

			last = snapshot
		}
	}
}
