package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

type Config struct {
	// Output (gen) or plugin configuration (run)
	Output     string
	ConfigPath string

	// Volume
	Records  int
	Duration time.Duration
	Threads  int

	// Workload percentages (-1 means use workload default)
	Workload       string
	AccountPct     int
	SlotPct        int
	TransactionPct int

	// Shape
	Owners    string
	DeletePct int // % of transactions that zero an account balance
	VotePct   int // % of transactions flagged as votes
	StartSlot uint64
	Seed      int64

	// Derived
	ownerList []solana.PublicKey
}

// WorkloadDistribution is the share of each callback kind, summing to 100
type WorkloadDistribution struct {
	Account     int
	Slot        int
	Transaction int
}

func (c *Config) Validate() error {
	if c.Records < 0 {
		return fmt.Errorf("records must be non-negative")
	}

	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}

	if c.DeletePct < 0 || c.DeletePct > 100 {
		return fmt.Errorf("delete-pct must be between 0 and 100")
	}

	if c.VotePct < 0 || c.VotePct > 100 {
		return fmt.Errorf("vote-pct must be between 0 and 100")
	}

	switch c.Workload {
	case "mixed", "accounts", "transactions", "slots":
	case "":
		c.Workload = "mixed"
	default:
		return fmt.Errorf("invalid workload: %s (must be mixed|accounts|transactions|slots)", c.Workload)
	}

	c.ownerList = c.ownerList[:0]
	for _, o := range strings.Split(c.Owners, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(o)
		if err != nil {
			return fmt.Errorf("invalid owner %q: %w", o, err)
		}
		c.ownerList = append(c.ownerList, pk)
	}
	if len(c.ownerList) == 0 {
		return fmt.Errorf("owners cannot be empty")
	}

	dist := c.GetWorkloadDistribution()
	if total := dist.Account + dist.Slot + dist.Transaction; total != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", total)
	}

	return nil
}

func (c *Config) OwnerList() []solana.PublicKey {
	return c.ownerList
}

func (c *Config) GetWorkloadDistribution() WorkloadDistribution {
	var dist WorkloadDistribution

	switch c.Workload {
	case "mixed":
		dist = WorkloadDistribution{Account: 70, Slot: 5, Transaction: 25}
	case "accounts":
		dist = WorkloadDistribution{Account: 95, Slot: 5, Transaction: 0}
	case "transactions":
		dist = WorkloadDistribution{Account: 0, Slot: 5, Transaction: 95}
	case "slots":
		dist = WorkloadDistribution{Account: 0, Slot: 100, Transaction: 0}
	}

	if c.AccountPct >= 0 {
		dist.Account = c.AccountPct
	}
	if c.SlotPct >= 0 {
		dist.Slot = c.SlotPct
	}
	if c.TransactionPct >= 0 {
		dist.Transaction = c.TransactionPct
	}

	return dist
}
