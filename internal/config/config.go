// Package config loads duskcrawl's runtime configuration via Viper, with an
// optional .env file loaded first for local-development convenience.
package config

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures every tunable named in the environment surface: frontier
// sizing, scheduler concurrency, filter lists, caching windows, proxy
// parameters, storage root, submission endpoints, and the admin surface.
type Config struct {
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Filters   FiltersConfig   `mapstructure:"filters"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Submit    SubmitConfig    `mapstructure:"submit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// FrontierConfig controls pop batching and lock behavior.
type FrontierConfig struct {
	MaxPool       int           `mapstructure:"max_pool"`
	BulkSize      int           `mapstructure:"bulk_size"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Backend       string        `mapstructure:"backend"` // "memory" (default), "postgres", or "sqlite"
	DSN           string        `mapstructure:"dsn"`
	SqlitePath    string        `mapstructure:"sqlite_path"`
}

// SchedulerConfig controls round-loop concurrency and lifecycle.
type SchedulerConfig struct {
	DarcCPU         int           `mapstructure:"darc_cpu"`
	Multiprocessing bool          `mapstructure:"multiprocessing"`
	Multithreading  bool          `mapstructure:"multithreading"`
	DarcWait        time.Duration `mapstructure:"darc_wait"`
	Reboot          bool          `mapstructure:"reboot"`
	Force           bool          `mapstructure:"force"`
	Debug           bool          `mapstructure:"debug"`
	Verbose         bool          `mapstructure:"verbose"`
}

// FiltersConfig holds the JSON-encoded regex allow/deny lists for hosts,
// MIME types, and proxy tags.
type FiltersConfig struct {
	LinkWhiteList  string `mapstructure:"link_white_list"`
	LinkBlackList  string `mapstructure:"link_black_list"`
	LinkFallback   bool   `mapstructure:"link_fallback"`
	MimeWhiteList  string `mapstructure:"mime_white_list"`
	MimeBlackList  string `mapstructure:"mime_black_list"`
	MimeFallback   bool   `mapstructure:"mime_fallback"`
	ProxyWhiteList string `mapstructure:"proxy_white_list"`
	ProxyBlackList string `mapstructure:"proxy_black_list"`
	ProxyFallback  bool   `mapstructure:"proxy_fallback"`
}

// DecodeList parses a JSON array of regex strings, or returns nil for an
// empty/unset list, mirroring the original's json.loads-based list config.
func DecodeList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode regex list: %w", err)
	}
	return out, nil
}

// CacheConfig controls freshness windows.
type CacheConfig struct {
	TimeCache time.Duration `mapstructure:"time_cache"` // <= 0 means forever
	SEWait    time.Duration `mapstructure:"se_wait"`
}

// ProxyConfig holds per-proxy-tag dial parameters.
type ProxyConfig struct {
	TorPort         int           `mapstructure:"tor_port"`
	TorRetry        int           `mapstructure:"tor_retry"`
	TorWait         time.Duration `mapstructure:"tor_wait"`
	I2PPort         int           `mapstructure:"i2p_port"`
	I2PRetry        int           `mapstructure:"i2p_retry"`
	I2PWait         time.Duration `mapstructure:"i2p_wait"`
	ZeroNetPort     int           `mapstructure:"zeronet_port"`
	FreenetPort     int           `mapstructure:"freenet_port"`
	InsecureSkipTLS bool          `mapstructure:"insecure_skip_tls"`
}

// StorageConfig selects the BlobStore backend and its root/bucket.
type StorageConfig struct {
	PathData  string `mapstructure:"path_data"`
	Backend   string `mapstructure:"backend"` // "local" (default) or "gcs"
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// SubmitConfig selects the submission Transport backend and its endpoints.
type SubmitConfig struct {
	Backend    string `mapstructure:"backend"` // "http" (default) or "pubsub"
	APINewHost string `mapstructure:"api_new_host"`
	APIRequest string `mapstructure:"api_requests"`
	APISeleniu string `mapstructure:"api_selenium"`
	APIRetry   int    `mapstructure:"api_retry"`
	PubSubProj string `mapstructure:"pubsub_project"`
}

// AdminConfig controls the operator-facing HTTP surface.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational frontier/progress database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for publish-subscribe submission topics.
type PubSubConfig struct {
	ProjectID     string `mapstructure:"project_id"`
	NewHostTopic  string `mapstructure:"new_host_topic"`
	FetchedTopic  string `mapstructure:"fetched_topic"`
	RenderedTopic string `mapstructure:"rendered_topic"`
}

// RateLimitConfig controls the per-host politeness token bucket.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// Load builds a Config from an optional config file, a .env file in the
// working directory (if present), and the environment.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // local-dev convenience; a missing file is not an error

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("frontier.max_pool", 100)
	v.SetDefault("frontier.bulk_size", 100)
	v.SetDefault("frontier.lock_timeout", 10*time.Second)
	v.SetDefault("frontier.retry_interval", 60*time.Second)
	v.SetDefault("frontier.backend", "memory")
	v.SetDefault("frontier.sqlite_path", "./data/frontier.db")

	v.SetDefault("scheduler.darc_cpu", runtime.NumCPU())
	v.SetDefault("scheduler.multiprocessing", true)
	v.SetDefault("scheduler.multithreading", false)
	v.SetDefault("scheduler.darc_wait", 60*time.Second)
	v.SetDefault("scheduler.reboot", false)
	v.SetDefault("scheduler.force", false)
	v.SetDefault("scheduler.debug", false)
	v.SetDefault("scheduler.verbose", false)

	v.SetDefault("filters.link_fallback", true)
	v.SetDefault("filters.mime_fallback", true)
	v.SetDefault("filters.proxy_fallback", true)

	v.SetDefault("cache.time_cache", 60*time.Second)
	v.SetDefault("cache.se_wait", 60*time.Second)

	v.SetDefault("proxy.tor_port", 9050)
	v.SetDefault("proxy.tor_retry", 3)
	v.SetDefault("proxy.tor_wait", 5*time.Second)
	v.SetDefault("proxy.i2p_port", 4444)
	v.SetDefault("proxy.i2p_retry", 3)
	v.SetDefault("proxy.i2p_wait", 5*time.Second)
	v.SetDefault("proxy.zeronet_port", 43110)
	v.SetDefault("proxy.freenet_port", 8888)

	v.SetDefault("storage.path_data", "./data")
	v.SetDefault("storage.backend", "local")

	v.SetDefault("submit.backend", "http")
	v.SetDefault("submit.api_retry", 3)

	v.SetDefault("admin.addr", ":9091")
	v.SetDefault("logging.development", true)

	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 1)
}

// bindEnv wires each key to its documented upper-case environment variable
// name (e.g. frontier.max_pool -> MAX_POOL); these names don't follow
// viper's default SECTION_KEY convention, so each is bound explicitly.
func bindEnv(v *viper.Viper) {
	binds := map[string]string{
		"frontier.max_pool":       "MAX_POOL",
		"frontier.bulk_size":      "BULK_SIZE",
		"frontier.lock_timeout":   "LOCK_TIMEOUT",
		"frontier.retry_interval": "RETRY_INTERVAL",
		"frontier.backend":        "FRONTIER_BACKEND",
		"frontier.dsn":            "FRONTIER_DSN",
		"frontier.sqlite_path":    "FRONTIER_SQLITE_PATH",

		"scheduler.darc_cpu":        "DARC_CPU",
		"scheduler.multiprocessing": "DARC_MULTIPROCESSING",
		"scheduler.multithreading":  "DARC_MULTITHREADING",
		"scheduler.darc_wait":       "DARC_WAIT",
		"scheduler.reboot":          "REBOOT",
		"scheduler.force":           "FORCE",
		"scheduler.debug":           "DEBUG",
		"scheduler.verbose":         "VERBOSE",

		"filters.link_white_list":  "LINK_WHITE_LIST",
		"filters.link_black_list":  "LINK_BLACK_LIST",
		"filters.link_fallback":    "LINK_FALLBACK",
		"filters.mime_white_list":  "MIME_WHITE_LIST",
		"filters.mime_black_list":  "MIME_BLACK_LIST",
		"filters.mime_fallback":    "MIME_FALLBACK",
		"filters.proxy_white_list": "PROXY_WHITE_LIST",
		"filters.proxy_black_list": "PROXY_BLACK_LIST",
		"filters.proxy_fallback":   "PROXY_FALLBACK",

		"cache.time_cache": "TIME_CACHE",
		"cache.se_wait":    "SE_WAIT",

		"proxy.tor_port":     "PROXY_TOR_PORT",
		"proxy.tor_retry":    "PROXY_TOR_RETRY",
		"proxy.tor_wait":     "PROXY_TOR_WAIT",
		"proxy.i2p_port":     "PROXY_I2P_PORT",
		"proxy.i2p_retry":    "PROXY_I2P_RETRY",
		"proxy.i2p_wait":     "PROXY_I2P_WAIT",
		"proxy.zeronet_port": "PROXY_ZERONET_PORT",
		"proxy.freenet_port": "PROXY_FREENET_PORT",

		"storage.path_data":  "PATH_DATA",
		"storage.backend":    "STORAGE_BACKEND",
		"storage.gcs_bucket": "STORAGE_GCS_BUCKET",
		"storage.gcs_prefix": "STORAGE_GCS_PREFIX",

		"submit.backend":        "SUBMIT_BACKEND",
		"submit.api_new_host":   "API_NEW_HOST",
		"submit.api_requests":   "API_REQUESTS",
		"submit.api_selenium":   "API_SELENIUM",
		"submit.api_retry":      "API_RETRY",
		"submit.pubsub_project": "PUBSUB_PROJECT",

		"admin.addr": "ADMIN_ADDR",

		"ratelimit.default_rps":   "RATE_LIMIT_RPS",
		"ratelimit.default_burst": "RATE_LIMIT_BURST",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
}

// Validate enforces required values and reasonable limits, including the
// mutual exclusion of the two concurrency modes.
func (c Config) Validate() error {
	if c.Frontier.MaxPool <= 0 {
		return fmt.Errorf("frontier.max_pool must be > 0")
	}
	if c.Frontier.BulkSize <= 0 {
		return fmt.Errorf("frontier.bulk_size must be > 0")
	}
	if c.Scheduler.Multiprocessing && c.Scheduler.Multithreading {
		return fmt.Errorf("scheduler.multiprocessing and scheduler.multithreading are mutually exclusive")
	}
	if c.Storage.PathData == "" {
		return fmt.Errorf("storage.path_data must be set")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
	}
	if c.Submit.Backend == "pubsub" && c.Submit.PubSubProj == "" {
		return fmt.Errorf("submit.pubsub_project must be set when submit.backend is pubsub")
	}
	return nil
}
