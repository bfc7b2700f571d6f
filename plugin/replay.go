package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/maxpert/geyser/event"
	"github.com/rs/zerolog/log"
)

// maxRecordSize bounds one replay line; transactions with large logs can
// exceed bufio's default
const maxRecordSize = 16 << 20

// Record is one recorded host callback. Exactly one event field is set.
type Record struct {
	Account     *event.AccountUpdate `json:"account,omitempty"`
	IsStartup   bool                 `json:"is_startup,omitempty"`
	Slot        *event.SlotStatus    `json:"slot,omitempty"`
	Transaction *event.Transaction   `json:"transaction,omitempty"`
}

// ReplayStats counts replayed callbacks
type ReplayStats struct {
	Records int
	Failed  int
}

// Dispatch delivers one record to the matching callback
func (p *Plugin) Dispatch(rec *Record) error {
	switch {
	case rec.Account != nil:
		return p.UpdateAccount(rec.Account, rec.IsStartup)
	case rec.Slot != nil:
		return p.UpdateSlotStatus(rec.Slot.Slot, rec.Slot.Parent, rec.Slot.Status)
	case rec.Transaction != nil:
		return p.NotifyTransaction(rec.Transaction)
	default:
		return fmt.Errorf("record has no event")
	}
}

// Replay reads JSON lines from r and dispatches each one. Callback errors
// are logged and counted; malformed lines and read errors stop the replay.
func (p *Plugin) Replay(ctx context.Context, r io.Reader) (ReplayStats, error) {
	var stats ReplayStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}

		stats.Records++
		if err := p.Dispatch(&rec); err != nil {
			if errors.Is(err, ErrNotLoaded) {
				return stats, err
			}
			stats.Failed++
			log.Warn().Err(err).Int("line", line).Msg("Callback failed")
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read events: %w", err)
	}
	return stats, nil
}
