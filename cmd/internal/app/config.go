package app

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends accepted by INBOX_STORE.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

// Config contains all runtime configuration.
//
// Values come from defaults, then the optional YAML file named by INBOX_CONFIG_FILE,
// then INBOX_* environment variables (highest precedence).
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	StoreBackend string
	AutoMigrate  bool

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	SQLitePath string

	MongoURL      string
	MongoDatabase string

	// Cross-instance fan-out. Empty RedisURL keeps broadcasting local.
	RedisURL      string
	RelayInstance string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSAllowedOrigins    []string
	WSOriginRequired    bool
	WSSendQueueSize     int
	WSHeartbeatInterval time.Duration
	WSHeartbeatTimeout  time.Duration
	WSRateEvents        int
	WSRateWindow        time.Duration

	MetricsEnabled bool
	MetricsPath    string

	// If true, /readyz returns 503 while running on the in-memory store.
	ReadinessRequireStore bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		MaxBodyBytes:      1 << 20,

		StoreBackend: BackendMemory,
		AutoMigrate:  true,

		DBSchema:   "inbox",
		DBMaxConns: 10,
		DBMinConns: 0,

		SQLitePath: "data/inbox.db",

		MongoDatabase: "inbox",

		RelayInstance: "default",

		CORSAllowedOrigins: []string{"*"},
		CORSMaxAgeSeconds:  600,

		WSAllowedOrigins:    []string{"*"},
		WSSendQueueSize:     64,
		WSHeartbeatInterval: 25 * time.Second,
		WSHeartbeatTimeout:  5 * time.Second,
		WSRateEvents:        30,
		WSRateWindow:        10 * time.Second,

		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// LoadConfig builds Config from defaults, the config file and the environment.
// An empty path falls back to INBOX_CONFIG_FILE; no file at all is fine.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString("INBOX_CONFIG_FILE", "")
	}
	if path != "" {
		if err := applyConfigFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	// A database URL without an explicit backend selects Postgres.
	if os.Getenv("INBOX_STORE") == "" && cfg.StoreBackend == BackendMemory && cfg.DatabaseURL != "" {
		cfg.StoreBackend = BackendPostgres
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = EnvString("INBOX_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("INBOX_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(EnvString("INBOX_LOG_FORMAT", cfg.LogFormat))

	cfg.ReadHeaderTimeout = EnvDuration("INBOX_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("INBOX_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("INBOX_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("INBOX_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("INBOX_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)
	cfg.MaxBodyBytes = EnvInt64("INBOX_HTTP_MAX_BODY_BYTES", cfg.MaxBodyBytes)

	cfg.StoreBackend = strings.ToLower(EnvString("INBOX_STORE", cfg.StoreBackend))
	cfg.AutoMigrate = EnvBool("INBOX_AUTO_MIGRATE", cfg.AutoMigrate)

	cfg.DatabaseURL = EnvString("INBOX_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBSchema = EnvString("INBOX_DB_SCHEMA", cfg.DBSchema)
	cfg.DBMaxConns = EnvInt32("INBOX_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("INBOX_DB_MIN_CONNS", cfg.DBMinConns)

	cfg.SQLitePath = EnvString("INBOX_SQLITE_PATH", cfg.SQLitePath)

	cfg.MongoURL = EnvString("INBOX_MONGO_URL", cfg.MongoURL)
	cfg.MongoDatabase = EnvString("INBOX_MONGO_DB", cfg.MongoDatabase)

	cfg.RedisURL = EnvString("INBOX_REDIS_URL", cfg.RedisURL)
	cfg.RelayInstance = EnvString("INBOX_RELAY_INSTANCE", cfg.RelayInstance)

	cfg.CORSAllowedOrigins = EnvCSV("INBOX_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.CORSAllowCredentials = EnvBool("INBOX_CORS_ALLOW_CREDENTIALS", cfg.CORSAllowCredentials)
	cfg.CORSMaxAgeSeconds = EnvInt("INBOX_CORS_MAX_AGE_SECONDS", cfg.CORSMaxAgeSeconds)

	cfg.WSAllowedOrigins = EnvCSV("INBOX_WS_ALLOWED_ORIGINS", cfg.WSAllowedOrigins)
	cfg.WSOriginRequired = EnvBool("INBOX_WS_ORIGIN_REQUIRED", cfg.WSOriginRequired)
	cfg.WSSendQueueSize = EnvInt("INBOX_WS_SEND_QUEUE", cfg.WSSendQueueSize)
	cfg.WSHeartbeatInterval = EnvDuration("INBOX_WS_HEARTBEAT_INTERVAL", cfg.WSHeartbeatInterval)
	cfg.WSHeartbeatTimeout = EnvDuration("INBOX_WS_HEARTBEAT_TIMEOUT", cfg.WSHeartbeatTimeout)
	cfg.WSRateEvents = EnvInt("INBOX_WS_RATE_EVENTS", cfg.WSRateEvents)
	cfg.WSRateWindow = EnvDuration("INBOX_WS_RATE_WINDOW", cfg.WSRateWindow)

	cfg.MetricsEnabled = EnvBool("INBOX_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsPath = EnvString("INBOX_METRICS_PATH", cfg.MetricsPath)

	cfg.ReadinessRequireStore = EnvBool("INBOX_READINESS_REQUIRE_STORE", cfg.ReadinessRequireStore)
}

// Validate checks backend-specific requirements.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store %q requires INBOX_DATABASE_URL", c.StoreBackend)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("store %q requires INBOX_SQLITE_PATH", c.StoreBackend)
		}
	case BackendMongo:
		if c.MongoURL == "" || c.MongoDatabase == "" {
			return fmt.Errorf("store %q requires INBOX_MONGO_URL and INBOX_MONGO_DB", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	if c.MetricsEnabled && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics path %q must start with /", c.MetricsPath)
	}
	return nil
}

// fileConfig mirrors the YAML layout of INBOX_CONFIG_FILE.
// Zero values leave the current setting untouched.
type fileConfig struct {
	HTTP struct {
		Addr              string `yaml:"addr"`
		ReadHeaderTimeout string `yaml:"read_header_timeout"`
		ReadTimeout       string `yaml:"read_timeout"`
		WriteTimeout      string `yaml:"write_timeout"`
		IdleTimeout       string `yaml:"idle_timeout"`
		MaxHeaderBytes    int    `yaml:"max_header_bytes"`
		MaxBodyBytes      int64  `yaml:"max_body_bytes"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Store struct {
		Backend     string `yaml:"backend"`
		AutoMigrate *bool  `yaml:"auto_migrate"`

		Postgres struct {
			URL      string `yaml:"url"`
			Schema   string `yaml:"schema"`
			MaxConns int32  `yaml:"max_conns"`
			MinConns int32  `yaml:"min_conns"`
		} `yaml:"postgres"`

		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`

		Mongo struct {
			URL      string `yaml:"url"`
			Database string `yaml:"database"`
		} `yaml:"mongo"`
	} `yaml:"store"`

	Relay struct {
		RedisURL string `yaml:"redis_url"`
		Instance string `yaml:"instance"`
	} `yaml:"relay"`

	CORS struct {
		AllowedOrigins   []string `yaml:"allowed_origins"`
		AllowCredentials *bool    `yaml:"allow_credentials"`
		MaxAgeSeconds    int      `yaml:"max_age_seconds"`
	} `yaml:"cors"`

	WS struct {
		AllowedOrigins    []string `yaml:"allowed_origins"`
		OriginRequired    *bool    `yaml:"origin_required"`
		SendQueueSize     int      `yaml:"send_queue_size"`
		HeartbeatInterval string   `yaml:"heartbeat_interval"`
		HeartbeatTimeout  string   `yaml:"heartbeat_timeout"`
		RateEvents        int      `yaml:"rate_events"`
		RateWindow        string   `yaml:"rate_window"`
	} `yaml:"ws"`

	Metrics struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Readiness struct {
		RequireStore *bool `yaml:"require_store"`
	} `yaml:"readiness"`
}

var envRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvRefs replaces ${VAR} references with the variable's value (empty when unset).
func expandEnvRefs(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRefPattern.FindStringSubmatch(match)[1])
	})
}

func applyConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expandEnvRefs(string(data))), &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return fc.applyTo(cfg)
}

func (fc fileConfig) applyTo(cfg *Config) error {
	setString(&cfg.HTTPAddr, fc.HTTP.Addr)
	setInt(&cfg.MaxHeaderBytes, fc.HTTP.MaxHeaderBytes)
	if fc.HTTP.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = fc.HTTP.MaxBodyBytes
	}

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, strings.ToLower(fc.Log.Format))

	setString(&cfg.StoreBackend, strings.ToLower(fc.Store.Backend))
	setBool(&cfg.AutoMigrate, fc.Store.AutoMigrate)
	setString(&cfg.DatabaseURL, fc.Store.Postgres.URL)
	setString(&cfg.DBSchema, fc.Store.Postgres.Schema)
	if fc.Store.Postgres.MaxConns > 0 {
		cfg.DBMaxConns = fc.Store.Postgres.MaxConns
	}
	if fc.Store.Postgres.MinConns > 0 {
		cfg.DBMinConns = fc.Store.Postgres.MinConns
	}
	setString(&cfg.SQLitePath, fc.Store.SQLite.Path)
	setString(&cfg.MongoURL, fc.Store.Mongo.URL)
	setString(&cfg.MongoDatabase, fc.Store.Mongo.Database)

	setString(&cfg.RedisURL, fc.Relay.RedisURL)
	setString(&cfg.RelayInstance, fc.Relay.Instance)

	if len(fc.CORS.AllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = fc.CORS.AllowedOrigins
	}
	setBool(&cfg.CORSAllowCredentials, fc.CORS.AllowCredentials)
	setInt(&cfg.CORSMaxAgeSeconds, fc.CORS.MaxAgeSeconds)

	if len(fc.WS.AllowedOrigins) > 0 {
		cfg.WSAllowedOrigins = fc.WS.AllowedOrigins
	}
	setBool(&cfg.WSOriginRequired, fc.WS.OriginRequired)
	setInt(&cfg.WSSendQueueSize, fc.WS.SendQueueSize)
	setInt(&cfg.WSRateEvents, fc.WS.RateEvents)

	setBool(&cfg.MetricsEnabled, fc.Metrics.Enabled)
	setString(&cfg.MetricsPath, fc.Metrics.Path)
	setBool(&cfg.ReadinessRequireStore, fc.Readiness.RequireStore)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"http.read_header_timeout", fc.HTTP.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"http.read_timeout", fc.HTTP.ReadTimeout, &cfg.ReadTimeout},
		{"http.write_timeout", fc.HTTP.WriteTimeout, &cfg.WriteTimeout},
		{"http.idle_timeout", fc.HTTP.IdleTimeout, &cfg.IdleTimeout},
		{"ws.heartbeat_interval", fc.WS.HeartbeatInterval, &cfg.WSHeartbeatInterval},
		{"ws.heartbeat_timeout", fc.WS.HeartbeatTimeout, &cfg.WSHeartbeatTimeout},
		{"ws.rate_window", fc.WS.RateWindow, &cfg.WSRateWindow},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.key, d.raw, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %q", d.key, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
