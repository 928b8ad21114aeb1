package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Scoring struct {
		Weights  map[string]float64 `yaml:"weights"`
		MinScore float64            `yaml:"min_score" default:"70"`
	} `yaml:"scoring"`
	Sizing struct {
		RiskPct        float64 `yaml:"risk_pct" default:"0.01"`
		DefaultLotStep float64 `yaml:"default_lot_step" default:"0.001"`
	} `yaml:"sizing"`
	Risk struct {
		MaxDailyLossFrac float64 `yaml:"max_daily_loss_frac" default:"0.05"`
		MaxOpenPositions int     `yaml:"max_open_positions" default:"10"`
		AllowPyramiding  bool    `yaml:"allow_pyramiding"`
		Timezone         string  `yaml:"timezone" default:"UTC"`
	} `yaml:"risk"`
	Pipeline struct {
		DispatchTimeout time.Duration `yaml:"dispatch_timeout" default:"30s"`
		DecisionTTL     time.Duration `yaml:"decision_ttl" default:"36h"`
		MaxRPS          int           `yaml:"max_rps" default:"20"`
		Burst           int           `yaml:"burst" default:"5"`
		BufferSize      int           `yaml:"buffer_size" default:"1000"`
	} `yaml:"pipeline"`
	Exchange struct {
		// Mode selects the order sink: "paper" or "bybit".
		Mode      string `yaml:"mode" default:"paper"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		// Env is "demo", "testnet" or "mainnet" for the bybit sink.
		Env      string `yaml:"env" default:"demo"`
		Category string `yaml:"category" default:"linear"`
		Breaker  struct {
			Enabled             bool          `yaml:"enabled" default:"true"`
			MaxRequests         uint32        `yaml:"max_requests" default:"3"`
			Interval            time.Duration `yaml:"interval" default:"60s"`
			Timeout             time.Duration `yaml:"timeout" default:"30s"`
			ErrorRateThreshold  float64       `yaml:"error_rate_threshold" default:"0.15"`
			ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"5"`
		} `yaml:"breaker"`
	} `yaml:"exchange"`
	Journal struct {
		// Backend routes decision records: "kafka" or "clickhouse".
		Backend string `yaml:"backend" default:"kafka"`
	} `yaml:"journal"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"decisions"`
		ReportsTopic string   `yaml:"reports_topic" default:"execution-reports"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"ultraflow"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"ultraflow"`
		Table            string        `yaml:"table" default:"ultraflow.decisions"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Stream struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"stream"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("EXCHANGE_MODE"); v != "" {
		c.Exchange.Mode = v
	}
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("BYBIT_ENV"); v != "" {
		c.Exchange.Env = v
	}
	if v := os.Getenv("STREAM_API_KEY"); v != "" {
		c.Stream.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("JOURNAL_BACKEND"); v != "" {
		c.Journal.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MAX_DAILY_LOSS_FRAC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Risk.MaxDailyLossFrac = f
		}
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Scoring.Weights) == 0 {
		return fmt.Errorf("scoring.weights cannot be empty")
	}
	if c.Scoring.MinScore < 0 || c.Scoring.MinScore > 100 {
		return fmt.Errorf("scoring.min_score must be in [0,100], got %v", c.Scoring.MinScore)
	}
	if c.Sizing.RiskPct <= 0 || c.Sizing.RiskPct > 1 {
		return fmt.Errorf("sizing.risk_pct must be in (0,1], got %v", c.Sizing.RiskPct)
	}
	if c.Risk.MaxDailyLossFrac <= 0 || c.Risk.MaxDailyLossFrac > 1 {
		return fmt.Errorf("risk.max_daily_loss_frac must be in (0,1], got %v", c.Risk.MaxDailyLossFrac)
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be positive")
	}
	if c.Exchange.Mode != "paper" && c.Exchange.Mode != "bybit" {
		return fmt.Errorf("exchange.mode must be 'paper' or 'bybit', got '%s'", c.Exchange.Mode)
	}
	if c.Exchange.Mode == "bybit" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required for bybit mode")
	}
	if c.Journal.Backend != "kafka" && c.Journal.Backend != "clickhouse" {
		return fmt.Errorf("journal.backend must be 'kafka' or 'clickhouse', got '%s'", c.Journal.Backend)
	}
	if c.Journal.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required when journal.backend is 'kafka'")
	}
	if c.Journal.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when journal.backend is 'clickhouse'")
	}
	if c.Stream.Enabled && len(c.Stream.Symbols) == 0 {
		return fmt.Errorf("stream.symbols cannot be empty when the stream is enabled")
	}
	return nil
}
