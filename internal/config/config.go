package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clinledger/clinledger/internal/records"
	"github.com/clinledger/clinledger/internal/schema"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	WorkloadInsert = "insert"
	WorkloadQuery  = "query"

	SinkFile     = "file"
	SinkPostgres = "postgres"
)

type Config struct {
	Node      NodeConfig      `mapstructure:"node" yaml:"node"`
	Raft      RaftConfig      `mapstructure:"raft" yaml:"raft"`
	Ledger    LedgerConfig    `mapstructure:"ledger" yaml:"ledger"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark" yaml:"benchmark"`
	Latency   LatencyConfig   `mapstructure:"latency" yaml:"latency"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Alert     AlertConfig     `mapstructure:"alert" yaml:"alert"`
	Verify    VerifyConfig    `mapstructure:"verify" yaml:"verify"`
}

type NodeConfig struct {
	ID        string            `mapstructure:"id" yaml:"id"`
	BindAddr  string            `mapstructure:"bind_addr" yaml:"bind_addr"`
	DataDir   string            `mapstructure:"data_dir" yaml:"data_dir"`
	Bootstrap bool              `mapstructure:"bootstrap" yaml:"bootstrap"`
	PeerAddrs map[string]string `mapstructure:"peer_addrs" yaml:"peer_addrs,omitempty"`
}

type RaftConfig struct {
	Enabled                    bool   `mapstructure:"enabled" yaml:"enabled"`
	LeadershipTransferInterval string `mapstructure:"leadership_transfer_interval" yaml:"leadership_transfer_interval,omitempty"`
}

type LedgerConfig struct {
	Contract string `mapstructure:"contract" yaml:"contract"`
	Version  string `mapstructure:"version" yaml:"version"`
	// EnforceUniqueness overrides the per record type default. Keys are matched without
	// regard to case since viper lowercases map keys.
	EnforceUniqueness map[string]bool `mapstructure:"enforce_uniqueness" yaml:"enforce_uniqueness,omitempty"`
}

type BenchmarkConfig struct {
	Workload      string  `mapstructure:"workload" yaml:"workload"`
	RecordType    string  `mapstructure:"record_type" yaml:"record_type"`
	Source        string  `mapstructure:"source" yaml:"source"`
	HeaderBytes   int64   `mapstructure:"header_bytes" yaml:"header_bytes,omitempty"`
	Separator     string  `mapstructure:"separator" yaml:"separator"`
	Quoted        bool    `mapstructure:"quoted" yaml:"quoted"`
	Workers       int     `mapstructure:"workers" yaml:"workers"`
	Rounds        int     `mapstructure:"rounds" yaml:"rounds"`
	TPS           float64 `mapstructure:"tps" yaml:"tps"`
	Duration      string  `mapstructure:"duration" yaml:"duration,omitempty"`
	InsertTimeout string  `mapstructure:"insert_timeout" yaml:"insert_timeout"`
	QueryTimeout  string  `mapstructure:"query_timeout" yaml:"query_timeout"`
	QueryFunction string  `mapstructure:"query_function" yaml:"query_function"`
	QueryMin      int     `mapstructure:"query_min" yaml:"query_min"`
	QueryMax      int     `mapstructure:"query_max" yaml:"query_max"`
	MetricsAddr   string  `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

type LatencyConfig struct {
	Sink string `mapstructure:"sink" yaml:"sink"`
	Path string `mapstructure:"path" yaml:"path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Port     int    `mapstructure:"port" yaml:"port,omitempty"`
	Database string `mapstructure:"database" yaml:"database,omitempty"`
	User     string `mapstructure:"user" yaml:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type AlertConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook" yaml:"slack_webhook,omitempty"`
}

type VerifyConfig struct {
	// Interval between background chain verifications in serve mode; empty disables them.
	Interval string `mapstructure:"interval" yaml:"interval,omitempty"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default is the configuration of a single local node running the insert benchmark.
func Default() *Config {
	c := &Config{
		Node: NodeConfig{
			ID:        "node1",
			BindAddr:  "127.0.0.1:7000",
			Bootstrap: true,
		},
		Benchmark: BenchmarkConfig{
			Workload:   WorkloadInsert,
			RecordType: schema.DictionaryItem,
			Source:     "mimiciii/D_ITEMS.csv",
		},
	}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

func (c *Config) Validate() error {
	if c.Node.DataDir == "" {
		c.Node.DataDir = "./data"
	}
	if c.Raft.Enabled {
		if c.Node.ID == "" {
			return fmt.Errorf("node.id is required")
		}
		if c.Node.BindAddr == "" {
			return fmt.Errorf("node.bind_addr is required")
		}
	}
	if c.Raft.LeadershipTransferInterval != "" {
		if err := positiveDuration("raft.leadership_transfer_interval", c.Raft.LeadershipTransferInterval); err != nil {
			return err
		}
	}

	if c.Ledger.Contract == "" {
		c.Ledger.Contract = records.DefaultContractName
	}
	if c.Ledger.Version == "" {
		c.Ledger.Version = records.DefaultContractVersion
	}
	if _, err := c.Ledger.UniquenessOverrides(); err != nil {
		return err
	}

	if err := c.Benchmark.validate(); err != nil {
		return err
	}

	if c.Latency.Sink == "" {
		c.Latency.Sink = SinkFile
	}
	switch c.Latency.Sink {
	case SinkFile:
		if c.Latency.Path == "" {
			c.Latency.Path = "EXECUTION_TIME"
		}
	case SinkPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for the postgres sink")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for the postgres sink")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for the postgres sink")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	default:
		return fmt.Errorf("invalid latency.sink: %s (valid options: file, postgres)", c.Latency.Sink)
	}

	if c.Alert.Enabled && c.Alert.SlackWebhook == "" {
		return fmt.Errorf("alert.slack_webhook is required when alerts are enabled")
	}
	if c.Verify.Interval != "" {
		if err := positiveDuration("verify.interval", c.Verify.Interval); err != nil {
			return err
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %s (valid options: text, json)", c.Log.Format)
	}

	return nil
}

func (b *BenchmarkConfig) validate() error {
	if b.Workload == "" {
		b.Workload = WorkloadInsert
	}
	switch b.Workload {
	case WorkloadInsert:
		if _, ok := schema.Lookup(b.RecordType); !ok {
			return fmt.Errorf("invalid benchmark.record_type: %q (valid options: %s)",
				b.RecordType, strings.Join(schema.Names(), ", "))
		}
		if b.Source == "" {
			return fmt.Errorf("benchmark.source is required for the insert workload")
		}
	case WorkloadQuery:
		if b.QueryFunction == "" {
			b.QueryFunction = records.FnQueryPatientByID
		}
		if b.QueryMin == 0 && b.QueryMax == 0 {
			b.QueryMin, b.QueryMax = 1, 10000
		}
		if b.QueryMin > b.QueryMax {
			return fmt.Errorf("benchmark.query_min %d exceeds query_max %d", b.QueryMin, b.QueryMax)
		}
	default:
		return fmt.Errorf("invalid benchmark.workload: %s (valid options: insert, query)", b.Workload)
	}

	if b.Separator == "" {
		b.Separator = ","
	}
	if b.Workers <= 0 {
		b.Workers = 1
	}
	if b.InsertTimeout == "" {
		b.InsertTimeout = "4000ms"
	}
	if b.QueryTimeout == "" {
		b.QueryTimeout = "1000ms"
	}
	for name, value := range map[string]string{
		"insert_timeout": b.InsertTimeout,
		"query_timeout":  b.QueryTimeout,
		"duration":       b.Duration,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid benchmark.%s: %w", name, err)
		}
	}
	return nil
}

func positiveDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s: %s must be positive", name, value)
	}
	return nil
}

// Durations parses the benchmark timeouts and run duration. Call after Validate.
func (b *BenchmarkConfig) Durations() (insert, query, run time.Duration) {
	insert, _ = time.ParseDuration(b.InsertTimeout)
	query, _ = time.ParseDuration(b.QueryTimeout)
	if b.Duration != "" {
		run, _ = time.ParseDuration(b.Duration)
	}
	return insert, query, run
}

// UniquenessOverrides maps the configured keys back to record type names.
func (l *LedgerConfig) UniquenessOverrides() (map[string]bool, error) {
	overrides := make(map[string]bool, len(l.EnforceUniqueness))
	for key, v := range l.EnforceUniqueness {
		matched := false
		for _, name := range schema.Names() {
			if strings.EqualFold(key, name) {
				overrides[name] = v
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("invalid ledger.enforce_uniqueness key: %s", key)
		}
	}
	return overrides, nil
}

func (c *Config) LedgerPath() string {
	return filepath.Join(c.Node.DataDir, "ledger.db")
}

func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		d.Host, d.Port, d.Database, d.User, d.Password)
}

// WriteSample renders c as YAML.
func WriteSample(w io.Writer, c *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
