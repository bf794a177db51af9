package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete laostr configuration
type Config struct {
	Relays  Relays  `yaml:"relays"`
	Feed    Feed    `yaml:"feed"`
	Scope   Scope   `yaml:"scope"`
	Ranking Ranking `yaml:"ranking"`
	Storage Storage `yaml:"storage"`
	State   State   `yaml:"state"`
	Logging Logging `yaml:"logging"`
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	QueryTimeoutMs  int `yaml:"query_timeout_ms"`  // one-shot query deadline
	LookupTimeoutMs int `yaml:"lookup_timeout_ms"` // profile/detail lookups
	MaxRelays       int `yaml:"max_relays"`        // cap on relays used per request (0 = all)
}

// Feed contains feed controller settings
type Feed struct {
	DefaultMode  string `yaml:"default_mode"` // for-you|following|hashtag
	DefaultLimit int    `yaml:"default_limit"`
	MaxNotes     int    `yaml:"max_notes"`   // 0 = unbounded
	PollSeconds  int    `yaml:"poll_seconds"` // check-new interval for watch
	LiveBuffer   int    `yaml:"live_buffer"`  // bounded queue for live subscriptions
	CacheNotes   bool   `yaml:"cache_notes"`  // write merged pages to the local event cache
}

// Scope limits which authors the following feed can include
type Scope struct {
	MaxAuthors       int      `yaml:"max_authors"`
	AllowlistPubkeys []string `yaml:"allowlist_pubkeys"`
	DenylistPubkeys  []string `yaml:"denylist_pubkeys"`
}

// Ranking contains interest ranking weights
type Ranking struct {
	LikeWeight        float64 `yaml:"like_weight"`
	RepostWeight      float64 `yaml:"repost_weight"`
	ReplyWeight       float64 `yaml:"reply_weight"`
	FreshnessHours    float64 `yaml:"freshness_hours"`
	FreshnessFloor    float64 `yaml:"freshness_floor"`
	MaxTrackedAuthors int     `yaml:"max_tracked_authors"` // 0 = unbounded
	MaxTrackedTopics  int     `yaml:"max_tracked_topics"`  // 0 = unbounded
}

// Storage contains the local event cache backend settings
type Storage struct {
	Driver     string `yaml:"driver"` // sqlite|memory
	SQLitePath string `yaml:"sqlite_path"`
}

// State contains the key-value store used for accounts, affinities and bookmarks
type State struct {
	Engine   string `yaml:"engine"` // sqlite|memory|redis
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

var validModes = map[string]bool{
	"for-you":   true,
	"following": true,
	"hashtag":   true,
}

var validStorageDrivers = map[string]bool{
	"sqlite": true,
	"memory": true,
}

var validStateEngines = map[string]bool{
	"sqlite": true,
	"memory": true,
	"redis":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func applyDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Relays.Seeds) == 0 {
		cfg.Relays.Seeds = defaults.Relays.Seeds
	}
	if cfg.Relays.Policy.QueryTimeoutMs == 0 {
		cfg.Relays.Policy.QueryTimeoutMs = defaults.Relays.Policy.QueryTimeoutMs
	}
	if cfg.Relays.Policy.LookupTimeoutMs == 0 {
		cfg.Relays.Policy.LookupTimeoutMs = defaults.Relays.Policy.LookupTimeoutMs
	}

	if cfg.Feed.DefaultMode == "" {
		cfg.Feed.DefaultMode = defaults.Feed.DefaultMode
	}
	if cfg.Feed.DefaultLimit == 0 {
		cfg.Feed.DefaultLimit = defaults.Feed.DefaultLimit
	}
	if cfg.Feed.PollSeconds == 0 {
		cfg.Feed.PollSeconds = defaults.Feed.PollSeconds
	}
	if cfg.Feed.LiveBuffer == 0 {
		cfg.Feed.LiveBuffer = defaults.Feed.LiveBuffer
	}

	// Ranking weights are applied as a group so a partial override keeps the ordering
	if cfg.Ranking.LikeWeight == 0 && cfg.Ranking.RepostWeight == 0 && cfg.Ranking.ReplyWeight == 0 {
		cfg.Ranking.LikeWeight = defaults.Ranking.LikeWeight
		cfg.Ranking.RepostWeight = defaults.Ranking.RepostWeight
		cfg.Ranking.ReplyWeight = defaults.Ranking.ReplyWeight
	}
	if cfg.Ranking.FreshnessHours == 0 {
		cfg.Ranking.FreshnessHours = defaults.Ranking.FreshnessHours
	}
	if cfg.Ranking.FreshnessFloor == 0 {
		cfg.Ranking.FreshnessFloor = defaults.Ranking.FreshnessFloor
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = defaults.Storage.SQLitePath
	}

	if cfg.State.Engine == "" {
		cfg.State.Engine = defaults.State.Engine
		if cfg.Storage.Driver == "memory" {
			cfg.State.Engine = "memory"
		}
	}
	if cfg.State.Prefix == "" {
		cfg.State.Prefix = defaults.State.Prefix
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
}

// Load reads, defaults, overrides and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for missing fields
	applyDefaults(&cfg)

	// Apply environment variable overrides
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if redisURL := os.Getenv("LAOSTR_REDIS_URL"); redisURL != "" {
		cfg.State.RedisURL = redisURL
	}

	// Comma separated relay list replaces the configured seeds
	if relays := os.Getenv("LAOSTR_RELAYS"); relays != "" {
		seeds := make([]string, 0)
		for _, relay := range strings.Split(relays, ",") {
			relay = strings.TrimSpace(relay)
			if relay != "" {
				seeds = append(seeds, relay)
			}
		}
		if len(seeds) == 0 {
			return fmt.Errorf("LAOSTR_RELAYS is set but contains no relays")
		}
		cfg.Relays.Seeds = seeds
	}

	if level := os.Getenv("LAOSTR_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://yabu.me",
			},
			Policy: RelayPolicy{
				QueryTimeoutMs:  15000,
				LookupTimeoutMs: 10000,
				MaxRelays:       10,
			},
		},
		Feed: Feed{
			DefaultMode:  "for-you",
			DefaultLimit: 20,
			PollSeconds:  30,
			LiveBuffer:   256,
			CacheNotes:   true,
		},
		Ranking: Ranking{
			LikeWeight:     1,
			RepostWeight:   2,
			ReplyWeight:    3,
			FreshnessHours: 48,
			FreshnessFloor: 0.5,
		},
		Storage: Storage{
			Driver:     "sqlite",
			SQLitePath: "./data/laostr.db",
		},
		State: State{
			Engine: "sqlite",
			Prefix: "laostr:",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks a configuration for consistency
func Validate(cfg *Config) error {
	// Validate relay seeds
	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one relay seed is required")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed must start with ws:// or wss://: %s", seed)
		}
	}
	if cfg.Relays.Policy.QueryTimeoutMs < 0 || cfg.Relays.Policy.LookupTimeoutMs < 0 {
		return fmt.Errorf("relay timeouts must not be negative")
	}

	// Validate feed
	if !validModes[cfg.Feed.DefaultMode] {
		return fmt.Errorf("invalid feed mode: %s (must be one of: for-you, following, hashtag)", cfg.Feed.DefaultMode)
	}
	if cfg.Feed.DefaultLimit < 1 {
		return fmt.Errorf("feed.default_limit must be positive")
	}
	if cfg.Feed.MaxNotes < 0 {
		return fmt.Errorf("feed.max_notes must not be negative")
	}

	// Validate ranking weights: reply >= repost >= like
	r := cfg.Ranking
	if r.LikeWeight < 0 {
		return fmt.Errorf("ranking.like_weight must not be negative")
	}
	if r.RepostWeight < r.LikeWeight || r.ReplyWeight < r.RepostWeight {
		return fmt.Errorf("ranking weights must satisfy reply >= repost >= like (got %v/%v/%v)", r.ReplyWeight, r.RepostWeight, r.LikeWeight)
	}
	if r.FreshnessHours <= 0 {
		return fmt.Errorf("ranking.freshness_hours must be positive")
	}
	if r.FreshnessFloor <= 0 || r.FreshnessFloor > 1 {
		return fmt.Errorf("ranking.freshness_floor must be in (0, 1]")
	}

	// Validate storage driver
	if !validStorageDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("invalid storage driver: %s (must be one of: sqlite, memory)", cfg.Storage.Driver)
	}

	// Validate state engine
	if !validStateEngines[cfg.State.Engine] {
		return fmt.Errorf("invalid state engine: %s (must be one of: sqlite, memory, redis)", cfg.State.Engine)
	}
	if cfg.State.Engine == "redis" && cfg.State.RedisURL == "" {
		return fmt.Errorf("state.redis_url is required when state.engine is redis")
	}
	if cfg.State.Engine == "sqlite" && cfg.Storage.Driver != "sqlite" {
		return fmt.Errorf("state.engine sqlite requires storage.driver sqlite")
	}

	// Validate log level
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be one of: text, json)", cfg.Logging.Format)
	}

	return nil
}
