package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/plugin"
	_ "github.com/maxpert/geyser/publisher/sink"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Wormhole and Serum, the programs the sample configuration allows
const defaultOwners = "WormT3McKhFJ2RkiGpdw9GKvNCrB2aB54gb2uV9MfQC,9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "gen":
		runGenerate(args)
	case "run":
		runBenchmark(args)
	case "version":
		fmt.Printf("eventgen version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`eventgen - synthetic validator callbacks for the geyser publisher

Usage:
  eventgen <command> [options]

Commands:
  gen       Write callback records as JSON lines (input for geyser -events)
  run       Drive the plugin in-process and report throughput
  version   Print version
  help      Show this help

Common Options:
  --workload         mixed|accounts|transactions|slots (default: mixed)
  --account-pct      Account update percentage (overrides workload)
  --slot-pct         Slot status percentage (overrides workload)
  --transaction-pct  Transaction percentage (overrides workload)
  --owners           Comma-separated base58 owner programs
  --delete-pct       % of transactions that close an account (default: 20)
  --vote-pct         % of transactions flagged as votes (default: 0)
  --start-slot       First slot (default: 1)
  --seed             Random seed (default: current time)

Gen Options:
  --records          Records to write (default: 10000)
  --output           Output file, - for stdout (default: -)

Run Options:
  --config           Plugin configuration file (default: config.toml)
  --records          Callbacks to dispatch (default: 50000)
  --duration         Duration to run (overrides --records)
  --threads          Concurrent workers (default: 8)

Examples:
  eventgen gen --records=1000 --output=events.jsonl
  eventgen run --config=config.toml --workload=transactions --duration=30s`)
}

func commonFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Workload, "workload", "mixed", "Workload type")
	fs.IntVar(&c.AccountPct, "account-pct", -1, "Account update percentage (overrides workload)")
	fs.IntVar(&c.SlotPct, "slot-pct", -1, "Slot status percentage (overrides workload)")
	fs.IntVar(&c.TransactionPct, "transaction-pct", -1, "Transaction percentage (overrides workload)")
	fs.StringVar(&c.Owners, "owners", defaultOwners, "Comma-separated base58 owner programs")
	fs.IntVar(&c.DeletePct, "delete-pct", 20, "% of transactions that close an account")
	fs.IntVar(&c.VotePct, "vote-pct", 0, "% of transactions flagged as votes")
	fs.Uint64Var(&c.StartSlot, "start-slot", 1, "First slot")
	fs.Int64Var(&c.Seed, "seed", time.Now().UnixNano(), "Random seed")
}

func parse(fs *flag.FlagSet, c *Config, args []string) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
}

func runGenerate(args []string) {
	c := &Config{Threads: 1}
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	commonFlags(fs, c)
	fs.IntVar(&c.Records, "records", 10000, "Records to write")
	fs.StringVar(&c.Output, "output", "-", "Output file, - for stdout")
	parse(fs, c, args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out io.Writer = os.Stdout
	if c.Output != "-" {
		f, err := os.Create(c.Output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	buf := bufio.NewWriter(out)
	gen := NewGenerator(c, NewSlotClock(c.StartSlot), c.Seed)
	n, err := WriteRecords(ctx, gen, c.Records, buf)
	if flushErr := buf.Flush(); err == nil {
		err = flushErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Generate failed after %d records: %v\n", n, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d records\n", n)
}

func runBenchmark(args []string) {
	c := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	commonFlags(fs, c)
	fs.StringVar(&c.ConfigPath, "config", "config.toml", "Plugin configuration file")
	fs.IntVar(&c.Records, "records", 50000, "Callbacks to dispatch")
	fs.DurationVar(&c.Duration, "duration", 0, "Duration to run (overrides --records)")
	fs.IntVar(&c.Threads, "threads", 8, "Concurrent workers")
	parse(fs, c, args)

	if err := cfg.Load(c.ConfigPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load plugin configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid plugin configuration: %v\n", err)
		os.Exit(1)
	}

	p, err := plugin.New(cfg.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load plugin: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	elapsed, stats := execute(ctx, c, p)
	stats.PrintFinal(elapsed)

	if err := p.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close plugin: %v\n", err)
		os.Exit(1)
	}
}

// execute runs c.Threads workers against d until the record count or the
// duration is reached
func execute(ctx context.Context, c *Config, d Dispatcher) (time.Duration, *Stats) {
	if c.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}

	stats := NewStats()
	clock := NewSlotClock(c.StartSlot)
	opsChan := make(chan struct{}, c.Threads*2)

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	go reportProgress(reportCtx, stats)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < c.Threads; i++ {
		wg.Add(1)
		w := NewWorker(i, NewGenerator(c, clock, c.Seed+int64(i)), stats)
		go w.Run(ctx, d, opsChan, &wg)
	}

	feed(ctx, c, opsChan)
	wg.Wait()

	return time.Since(start), stats
}

func feed(ctx context.Context, c *Config, opsChan chan<- struct{}) {
	defer close(opsChan)

	for i := 0; c.Duration > 0 || i < c.Records; i++ {
		select {
		case <-ctx.Done():
			return
		case opsChan <- struct{}{}:
		}
	}
}
