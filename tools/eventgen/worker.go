package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/maxpert/geyser/plugin"
	"github.com/rs/zerolog/log"
)

// Dispatcher delivers one callback record, implemented by *plugin.Plugin
type Dispatcher interface {
	Dispatch(rec *plugin.Record) error
}

// Worker generates records and hands them to a dispatcher.
type Worker struct {
	id    int
	gen   *Generator
	stats *Stats
}

func NewWorker(id int, gen *Generator, stats *Stats) *Worker {
	return &Worker{id: id, gen: gen, stats: stats}
}

// Run dispatches one record per token received on opsChan until it closes
func (w *Worker) Run(ctx context.Context, d Dispatcher, opsChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-opsChan:
			if !ok {
				return
			}

			rec, kind := w.gen.Next()
			start := time.Now()
			err := d.Dispatch(rec)
			latency := time.Since(start)

			if err != nil {
				w.stats.RecordError(kind)
				log.Debug().Err(err).Int("worker", w.id).Str("kind", kind.String()).Msg("Callback failed")
				continue
			}
			w.stats.RecordOp(kind, latency)
		}
	}
}

// WriteRecords encodes n records as JSON lines
func WriteRecords(ctx context.Context, gen *Generator, n int, out io.Writer) (int, error) {
	enc := json.NewEncoder(out)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		rec, _ := gen.Next()
		if err := enc.Encode(rec); err != nil {
			return i, err
		}
	}
	return n, nil
}
