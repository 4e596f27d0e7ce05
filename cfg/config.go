package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// StorageConfiguration locates the shared data store
type StorageConfiguration struct {
	Path string `toml:"path"` // SQLite database path
}

// NATSConfiguration for the NATS-backed change feed
type NATSConfiguration struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// KafkaConfiguration for the Kafka-backed change feed
type KafkaConfiguration struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// FeedConfiguration controls change-event intake
type FeedConfiguration struct {
	Source        string             `toml:"source"`          // "nats" or "kafka"
	BatchWindowMS int                `toml:"batch_window_ms"` // Coalescing window
	MaxBatchSize  int                `toml:"max_batch_size"`
	Tables        []string           `toml:"tables"` // Glob patterns, empty = all
	NATS          NATSConfiguration  `toml:"nats"`
	Kafka         KafkaConfiguration `toml:"kafka"`
}

// ListenConfiguration for the shared socket/HTTP listener
type ListenConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// DispatchConfiguration controls push relay delivery
type DispatchConfiguration struct {
	MaxAttempts      int `toml:"max_attempts"`
	BaseDelayMS      int `toml:"base_delay_ms"`
	RateLimitDelayS  int `toml:"rate_limit_delay_seconds"`
	RequestTimeoutS  int `toml:"request_timeout_seconds"`
	CompressionLimit int `toml:"socket_compression_limit"` // Frame bytes before zstd kicks in
}

// DirectoryConfiguration controls the user/subscription cache
type DirectoryConfiguration struct {
	TTLSeconds int `toml:"ttl_seconds"`
	MaxEntries int `toml:"max_entries"`
}

// RetentionConfiguration controls the notification prune sweep
type RetentionConfiguration struct {
	SweepIntervalS int `toml:"sweep_interval_seconds"`
	MaxAgeDays     int `toml:"max_age_days"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	ProcessID  uint64 `toml:"process_id"`
	Address    string `toml:"address"`     // Public base URL of this site
	PhrasesDir string `toml:"phrases_dir"` // Optional locale phrase packs

	Storage    StorageConfiguration    `toml:"storage"`
	Feed       FeedConfiguration       `toml:"feed"`
	Listen     ListenConfiguration     `toml:"listen"`
	Dispatch   DispatchConfiguration   `toml:"dispatch"`
	Directory  DirectoryConfiguration  `toml:"directory"`
	Retention  RetentionConfiguration  `toml:"retention"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "config.toml", "Path to configuration file")
	PortFlag        = flag.Int("port", 0, "Listen port (overrides config)")
	StoragePathFlag = flag.String("storage-path", "", "SQLite path (overrides config)")
	AddressFlag     = flag.String("address", "", "Public site address (overrides config)")
)

// Default configuration
var Config = &Configuration{
	ProcessID: 0, // Auto-generate
	Address:   "http://localhost:8220",

	Storage: StorageConfiguration{
		Path: "./herald.db",
	},

	Feed: FeedConfiguration{
		Source:        "nats",
		BatchWindowMS: 100,
		MaxBatchSize:  512,
		Tables:        []string{},
		NATS: NATSConfiguration{
			URL:     "nats://localhost:4222",
			Subject: "herald.changes.>",
		},
		Kafka: KafkaConfiguration{
			Brokers: []string{"localhost:9092"},
			Topic:   "herald-changes",
			GroupID: "herald",
		},
	},

	Listen: ListenConfiguration{
		BindAddress: "0.0.0.0",
		Port:        8220,
	},

	Dispatch: DispatchConfiguration{
		MaxAttempts:      10,
		BaseDelayMS:      500,
		RateLimitDelayS:  60,
		RequestTimeoutS:  30,
		CompressionLimit: 8 << 10, // 8KB
	},

	Directory: DirectoryConfiguration{
		TTLSeconds: 300, // 5 minutes
		MaxEntries: 8192,
	},

	Retention: RetentionConfiguration{
		SweepIntervalS: 3600,
		MaxAgeDays:     90,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
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

	// Apply CLI overrides
	if *PortFlag != 0 {
		Config.Listen.Port = *PortFlag
	}
	if *StoragePathFlag != "" {
		Config.Storage.Path = *StoragePathFlag
	}
	if *AddressFlag != "" {
		Config.Address = *AddressFlag
	}

	// Auto-generate process ID if not set
	if Config.ProcessID == 0 {
		var err error
		Config.ProcessID, err = generateProcessID()
		if err != nil {
			return fmt.Errorf("failed to generate process ID: %w", err)
		}
		log.Info().Uint64("process_id", Config.ProcessID).Msg("Auto-generated process ID")
	}

	return nil
}

// generateProcessID creates a stable ID based on machine ID
func generateProcessID() (uint64, error) {
	id, err := machineid.ProtectedID("herald")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Listen.Port < 1 || Config.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen port: %d", Config.Listen.Port)
	}

	if Config.Address == "" {
		return fmt.Errorf("site address is required")
	}

	if Config.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	switch Config.Feed.Source {
	case "nats", "kafka":
	default:
		return fmt.Errorf("invalid feed source: %s", Config.Feed.Source)
	}

	if Config.Feed.BatchWindowMS < 1 {
		return fmt.Errorf("feed batch window must be >= 1ms")
	}

	if Config.Feed.MaxBatchSize < 1 {
		return fmt.Errorf("feed max batch size must be >= 1")
	}

	if Config.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch max attempts must be >= 1")
	}

	if Config.Dispatch.BaseDelayMS < 1 {
		return fmt.Errorf("dispatch base delay must be >= 1ms")
	}

	if Config.Dispatch.RateLimitDelayS < 0 {
		return fmt.Errorf("dispatch rate limit delay must be >= 0")
	}

	if Config.Dispatch.RequestTimeoutS < 1 {
		return fmt.Errorf("dispatch request timeout must be >= 1 second")
	}

	if Config.Directory.TTLSeconds < 1 {
		return fmt.Errorf("directory TTL must be >= 1 second")
	}

	if Config.Directory.MaxEntries < 1 {
		return fmt.Errorf("directory max entries must be >= 1")
	}

	if Config.Retention.MaxAgeDays < 1 {
		return fmt.Errorf("retention max age must be >= 1 day")
	}

	return nil
}
