package config

import "time"

// Config is the root configuration for a feedwatch instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	API       APIConfig       `yaml:"api"`
	Cache     CacheConfig     `yaml:"cache"`
	Feed      FeedConfig      `yaml:"feed"`
	Poller    PollerConfig    `yaml:"poller"`
	Push      PushConfig      `yaml:"push"`
	Database  DatabaseConfig  `yaml:"database"`
	Writers   WritersConfig   `yaml:"writers"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	LinkFetch LinkFetchConfig `yaml:"linkfetch"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds earnings REST API settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// CacheConfig selects the cache backend and its TTL tiers.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory, bolt or redis
	BoltPath      string        `yaml:"bolt_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	ShortTTL      time.Duration `yaml:"short_ttl"`  // Message snapshots
	MediumTTL     time.Duration `yaml:"medium_ttl"` // Earnings lists
	LongTTL       time.Duration `yaml:"long_ttl"`   // Per-ticker lookups and link previews
}

// FeedConfig holds reconciler settings.
type FeedConfig struct {
	HighlightWindow time.Duration `yaml:"highlight_window"`
	MaxMessages     int           `yaml:"max_messages"`
	PreviewLength   int           `yaml:"preview_length"`
}

// PollerConfig holds snapshot poller settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PushConfig holds push channel settings.
type PushConfig struct {
	Enabled            bool          `yaml:"enabled"`
	URL                string        `yaml:"url"`
	APIKey             string        `yaml:"api_key"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	DeliveredMemory    int           `yaml:"delivered_memory"`
}

// DatabaseConfig holds the optional message archive database.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// KafkaConfig holds new-arrival notification settings.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// LinkFetchConfig holds link preview settings.
type LinkFetchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	UserAgent      string        `yaml:"user_agent"` // Empty uses the build version
	Timeout        time.Duration `yaml:"timeout"`
	MaxChars       int           `yaml:"max_chars"`
	AllowedDomains []string      `yaml:"allowed_domains"`
}

// HTTPConfig holds the dashboard API server settings.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SSEKeepAlive    time.Duration `yaml:"sse_keepalive"`
	Mode            string        `yaml:"mode"` // gin mode: debug, release, test
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
