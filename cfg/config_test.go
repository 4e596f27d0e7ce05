package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func defaultTestConfig() *Configuration {
	return &Configuration{
		ProcessID: 1,
		Address:   "http://localhost:8220",
		Storage:   StorageConfiguration{Path: "./herald.db"},
		Feed: FeedConfiguration{
			Source:        "nats",
			BatchWindowMS: 100,
			MaxBatchSize:  512,
		},
		Listen:    ListenConfiguration{BindAddress: "0.0.0.0", Port: 8220},
		Dispatch:  DispatchConfiguration{MaxAttempts: 10, BaseDelayMS: 500, RateLimitDelayS: 60, RequestTimeoutS: 30},
		Directory: DirectoryConfiguration{TTLSeconds: 300, MaxEntries: 8192},
		Retention: RetentionConfiguration{SweepIntervalS: 3600, MaxAgeDays: 90},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = defaultTestConfig()
	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = defaultTestConfig()
	Config.Listen.Port = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for invalid port")
	}

	Config.Listen.Port = 70000
	if err := Validate(); err == nil {
		t.Error("Expected error for out-of-range port")
	}
}

func TestValidate_UnknownFeedSource(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = defaultTestConfig()
	Config.Feed.Source = "rabbitmq"
	if err := Validate(); err == nil {
		t.Error("Expected error for unknown feed source")
	}
}

func TestValidate_MissingAddress(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = defaultTestConfig()
	Config.Address = ""
	if err := Validate(); err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestValidate_DispatchBounds(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = defaultTestConfig()
	Config.Dispatch.MaxAttempts = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for zero max attempts")
	}

	Config = defaultTestConfig()
	Config.Dispatch.BaseDelayMS = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for zero base delay")
	}

	Config = defaultTestConfig()
	Config.Dispatch.RequestTimeoutS = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for zero request timeout")
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := *Config
	defer func() { *Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
address = "https://notify.example.org"

[storage]
path = "/var/lib/herald/herald.db"

[feed]
source = "kafka"

[listen]
port = 9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if Config.Address != "https://notify.example.org" {
		t.Errorf("address not loaded, got %q", Config.Address)
	}
	if Config.Feed.Source != "kafka" {
		t.Errorf("feed source not loaded, got %q", Config.Feed.Source)
	}
	if Config.Listen.Port != 9000 {
		t.Errorf("port not loaded, got %d", Config.Listen.Port)
	}
	if Config.ProcessID == 0 {
		t.Error("process ID was not auto-generated")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	original := *Config
	defer func() { *Config = original }()

	if err := Load(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if Config.Listen.Port != 8220 {
		t.Errorf("defaults lost, port = %d", Config.Listen.Port)
	}
}
