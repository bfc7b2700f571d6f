package sink

import (
	"github.com/maxpert/geyser/publisher"
	"github.com/maxpert/geyser/telemetry"
)

// Compile-time interface verification
var (
	_ publisher.Sink          = (*KafkaSink)(nil)
	_ publisher.Sink          = (*NatsSink)(nil)
	_ publisher.Sink          = (*MockSink)(nil)
	_ telemetry.StatsProvider = (*KafkaSink)(nil)
	_ telemetry.StatsProvider = (*NatsSink)(nil)
)
