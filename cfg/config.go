package cfg

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
)

// EnvironmentType selects the publisher backend of an environment
type EnvironmentType string

const (
	EnvironmentKafka EnvironmentType = "kafka" // Kafka broker publisher
	EnvironmentNATS  EnvironmentType = "nats"  // NATS JetStream broker publisher
	EnvironmentHTTP  EnvironmentType = "http"  // Local HTTP POST publisher
)

// EmptyAllowlistPolicy decides what an environment with an empty, sourceless
// allow-list publishes
type EmptyAllowlistPolicy string

const (
	EmptyAllowlistUnset EmptyAllowlistPolicy = ""
	EmptyAllowAll       EmptyAllowlistPolicy = "allow_all"
	EmptyDenyAll        EmptyAllowlistPolicy = "deny_all"
)

// Encoding formats for broker payloads
const (
	FormatProtobuf = "protobuf"
	FormatMsgpack  = "msgpack"
	FormatJSON     = "json"
)

// KafkaConfiguration tunes the kafka writer of an environment
type KafkaConfiguration struct {
	ClientID       string `toml:"client_id"`
	RequiredAcks   string `toml:"required_acks"` // "none", "one" or "all"
	Compression    string `toml:"compression"`   // "none", "gzip", "snappy", "lz4", "zstd"
	Balancer       string `toml:"balancer"`      // "hash" or "round_robin"
	BatchSize      int    `toml:"batch_size"`
	BatchBytes     int64  `toml:"batch_bytes"`
	BatchTimeoutMS int    `toml:"batch_timeout_ms"`
	WriteTimeoutMS int    `toml:"write_timeout_ms"`
	Async          *bool  `toml:"async"`
	AutoCreate     bool   `toml:"auto_create_topics"`
}

// NATSConfiguration tunes the JetStream streams created per subject
type NATSConfiguration struct {
	MaxAgeSeconds int    `toml:"max_age_seconds"`
	Storage       string `toml:"storage"` // "file" or "memory"
	TimeoutMS     int    `toml:"timeout_ms"`
}

// HTTPConfiguration tunes the local HTTP publisher
type HTTPConfiguration struct {
	TimeoutMS      int  `toml:"timeout_ms"`
	MaxRetries     *int `toml:"max_retries"` // nil means 3, 0 disables retries
	RetryInitialMS int  `toml:"retry_initial_ms"`
	RetryMaxMS     int  `toml:"retry_max_ms"`
}

// EnvironmentConfiguration describes one publishing destination and its
// program allow-list
type EnvironmentConfiguration struct {
	Name string          `toml:"name"`
	Type EnvironmentType `toml:"type"`

	Brokers []string `toml:"brokers"`  // kafka
	NatsURL string   `toml:"nats_url"` // nats
	URL     string   `toml:"url"`      // http root url

	ProgramAllowlist             []string             `toml:"program_allowlist"`
	ProgramAllowlistURL          string               `toml:"program_allowlist_url"`
	ProgramAllowlistAuth         string               `toml:"program_allowlist_auth"`
	ProgramAllowlistSlotInterval uint64               `toml:"program_allowlist_slot_interval"`
	ProgramAllowlistTimeoutMS    int                  `toml:"program_allowlist_timeout_ms"`
	EmptyAllowlist               EmptyAllowlistPolicy `toml:"empty_allowlist"`

	Kafka KafkaConfiguration `toml:"kafka"`
	NATS  NATSConfiguration  `toml:"nats"`
	HTTP  HTTPConfiguration  `toml:"http"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminConfiguration controls the admin endpoints served next to /metrics
type AdminConfiguration struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"` // Bearer token; empty disables auth
}

// Configuration is the main configuration structure
type Configuration struct {
	Cluster           string `toml:"cluster"`
	ClientID          string `toml:"client_id"`
	ShutdownTimeoutMS int    `toml:"shutdown_timeout_ms"`

	UpdateAccountTopic string `toml:"update_account_topic"`
	SlotStatusTopic    string `toml:"slot_status_topic"`
	TransactionTopic   string `toml:"transaction_topic"`

	PublishAllAccounts              bool `toml:"publish_all_accounts"`
	PublishAccountsWithoutSignature bool `toml:"publish_accounts_without_signature"`
	PublishVoteTransactions         bool `toml:"publish_vote_transactions"`
	SynthesizeDeletedAccounts       bool `toml:"synthesize_deleted_accounts"`
	WrapMessages                    bool `toml:"wrap_messages"`

	Format string `toml:"format"`

	// topic -> owner program ids routed to it instead of UpdateAccountTopic
	UpdateAccountTopicOverrides map[string][]string `toml:"update_account_topic_overrides"`

	Environments []EnvironmentConfiguration `toml:"environments"`

	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	ClusterFlag    = flag.String("cluster", "", "Cluster name (overrides config)")
	ClientIDFlag   = flag.String("client-id", "", "Client id (overrides config, empty=machine id)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging")
)

// Default configuration
var Config = Default()

// Default returns a configuration with every default applied
func Default() *Configuration {
	return &Configuration{
		Cluster:                   "mainnet",
		ShutdownTimeoutMS:         30000,
		SynthesizeDeletedAccounts: true,
		Format:                    FormatProtobuf,

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *ClusterFlag != "" {
		Config.Cluster = *ClusterFlag
	}
	if *ClientIDFlag != "" {
		Config.ClientID = *ClientIDFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.ClientID == "" {
		var err error
		Config.ClientID, err = generateClientID()
		if err != nil {
			return fmt.Errorf("failed to generate client id: %w", err)
		}
		log.Info().Str("client_id", Config.ClientID).Msg("Auto-generated client id")
	}

	for i := range Config.Environments {
		Config.Environments[i].fillDefaults()
	}

	return nil
}

// Parse decodes a TOML document on top of the defaults. Environment
// defaults are filled; CLI flags are not applied.
func Parse(doc string) (*Configuration, error) {
	c := Default()
	if _, err := toml.Decode(doc, c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for i := range c.Environments {
		c.Environments[i].fillDefaults()
	}
	return c, nil
}

// generateClientID derives a stable client id from the machine id, falling
// back to the hostname when the machine id is unreadable
func generateClientID() (string, error) {
	id, err := machineid.ProtectedID("geyser")
	if err == nil && len(id) >= 12 {
		return "geyser-" + id[:12], nil
	}

	log.Warn().Err(err).Msg("Machine id unavailable, using hostname for client id")
	hostname, herr := os.Hostname()
	if herr != nil {
		return "", errors.Join(err, herr)
	}
	return "geyser-" + hostname, nil
}

func (e *EnvironmentConfiguration) fillDefaults() {
	if e.ProgramAllowlistTimeoutMS == 0 {
		e.ProgramAllowlistTimeoutMS = 10000
	}

	switch e.Type {
	case EnvironmentKafka:
		k := &e.Kafka
		if k.RequiredAcks == "" {
			k.RequiredAcks = "one"
		}
		if k.Compression == "" {
			k.Compression = "lz4"
		}
		if k.Balancer == "" {
			k.Balancer = "hash"
		}
		if k.BatchSize == 0 {
			k.BatchSize = 100
		}
		if k.BatchBytes == 0 {
			k.BatchBytes = 1 << 20
		}
		if k.BatchTimeoutMS == 0 {
			k.BatchTimeoutMS = 10
		}
		if k.WriteTimeoutMS == 0 {
			k.WriteTimeoutMS = 30000
		}
		if k.Async == nil {
			async := true
			k.Async = &async
		}
	case EnvironmentNATS:
		n := &e.NATS
		if n.MaxAgeSeconds == 0 {
			n.MaxAgeSeconds = 24 * 60 * 60
		}
		if n.Storage == "" {
			n.Storage = "file"
		}
		if n.TimeoutMS == 0 {
			n.TimeoutMS = 5000
		}
	case EnvironmentHTTP:
		h := &e.HTTP
		if h.TimeoutMS == 0 {
			h.TimeoutMS = 5000
		}
		if h.MaxRetries == nil {
			retries := 3
			h.MaxRetries = &retries
		}
		if h.RetryInitialMS == 0 {
			h.RetryInitialMS = 100
		}
		if h.RetryMaxMS == 0 {
			h.RetryMaxMS = 2000
		}
	}
}

// Validate checks the global configuration
func Validate() error {
	return Config.Validate()
}

// Validate checks configuration for errors
func (c *Configuration) Validate() error {
	if c.ShutdownTimeoutMS < 1 {
		return fmt.Errorf("shutdown timeout must be >= 1ms")
	}

	switch c.Format {
	case FormatProtobuf, FormatMsgpack, FormatJSON:
	default:
		return fmt.Errorf("invalid format: %q", c.Format)
	}

	if c.Prometheus.Enabled && (c.Prometheus.Port < 1 || c.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", c.Prometheus.Port)
	}

	if len(c.Environments) == 0 {
		return fmt.Errorf("at least one environment is required")
	}

	seen := make(map[string]bool, len(c.Environments))
	for i := range c.Environments {
		env := &c.Environments[i]
		if env.Name == "" {
			return fmt.Errorf("environment %d: name is required", i)
		}
		if seen[env.Name] {
			return fmt.Errorf("duplicate environment name: %s", env.Name)
		}
		seen[env.Name] = true

		if err := env.validate(); err != nil {
			return fmt.Errorf("environment %q: %w", env.Name, err)
		}
	}

	if _, err := c.AccountTopicOverrides(); err != nil {
		return err
	}

	return nil
}

func (e *EnvironmentConfiguration) validate() error {
	switch e.Type {
	case EnvironmentKafka:
		if len(e.Brokers) == 0 {
			return fmt.Errorf("kafka environment requires brokers")
		}
		switch e.Kafka.RequiredAcks {
		case "", "none", "one", "all":
		default:
			return fmt.Errorf("invalid required_acks: %q", e.Kafka.RequiredAcks)
		}
		switch e.Kafka.Balancer {
		case "", "hash", "round_robin":
		default:
			return fmt.Errorf("invalid balancer: %q", e.Kafka.Balancer)
		}
	case EnvironmentNATS:
		if e.NatsURL == "" {
			return fmt.Errorf("nats environment requires nats_url")
		}
		switch e.NATS.Storage {
		case "", "file", "memory":
		default:
			return fmt.Errorf("invalid nats storage: %q", e.NATS.Storage)
		}
	case EnvironmentHTTP:
		if e.URL == "" {
			return fmt.Errorf("http environment requires url")
		}
	default:
		return fmt.Errorf("unknown environment type: %q", e.Type)
	}

	switch e.EmptyAllowlist {
	case EmptyAllowlistUnset, EmptyAllowAll, EmptyDenyAll:
	default:
		return fmt.Errorf("invalid empty_allowlist: %q", e.EmptyAllowlist)
	}

	if e.ProgramAllowlistURL != "" {
		if e.ProgramAllowlistSlotInterval == 0 {
			return fmt.Errorf("program_allowlist_slot_interval must be > 0 with program_allowlist_url")
		}
		if e.ProgramAllowlistTimeoutMS < 1 {
			return fmt.Errorf("program_allowlist_timeout_ms must be >= 1")
		}
	} else if e.validProgramCount() == 0 && e.EmptyAllowlist == EmptyAllowlistUnset {
		return fmt.Errorf("no valid program_allowlist entry or program_allowlist_url; set empty_allowlist to %q or %q",
			EmptyAllowAll, EmptyDenyAll)
	}

	return nil
}

// validProgramCount counts the program_allowlist entries that parse. The
// allow-list drops the others, so they do not make the list non-empty.
func (e *EnvironmentConfiguration) validProgramCount() int {
	n := 0
	for _, p := range e.ProgramAllowlist {
		if _, err := solana.PublicKeyFromBase58(p); err == nil {
			n++
		}
	}
	return n
}

// ErrDuplicateOverride is returned when one program is routed to two topics
var ErrDuplicateOverride = errors.New("program routed to more than one topic")

// AccountTopicOverrides inverts UpdateAccountTopicOverrides into
// owner -> topic
func (c *Configuration) AccountTopicOverrides() (map[solana.PublicKey]string, error) {
	out := make(map[solana.PublicKey]string)
	for topic, programs := range c.UpdateAccountTopicOverrides {
		if strings.TrimSpace(topic) == "" {
			return nil, fmt.Errorf("update_account_topic_overrides: empty topic name")
		}
		for _, p := range programs {
			id, err := solana.PublicKeyFromBase58(p)
			if err != nil {
				return nil, fmt.Errorf("update_account_topic_overrides[%s]: invalid program id %q: %w", topic, p, err)
			}
			if prev, ok := out[id]; ok && prev != topic {
				return nil, fmt.Errorf("update_account_topic_overrides: %s in %q and %q: %w", p, prev, topic, ErrDuplicateOverride)
			}
			out[id] = topic
		}
	}
	return out, nil
}
