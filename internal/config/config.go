package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given
const DefaultPath = "./tillscan.yaml"

// Config holds application configuration
type Config struct {
	Server     ServerConfig
	Catalog    CatalogConfig
	Generative GenerativeConfig
	Scanner    ScannerConfig
	Cache      CacheConfig
	Sale       SaleConfig
	Logger     LoggerConfig

	// Source describes where the configuration was loaded from
	Source string
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Listen       string // Address to listen on (e.g., ":4580" or "0.0.0.0:4580")
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    int // scanner commands per minute per client IP, 0 disables
}

// CatalogConfig contains product catalog settings
type CatalogConfig struct {
	Mode     string // "remote" or "memory"
	BaseURL  string
	SeedFile string
	Timeout  time.Duration
}

// GenerativeConfig contains generative fallback lookup settings
type GenerativeConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// ScannerConfig contains barcode scanner settings
type ScannerConfig struct {
	PreferredKeywords []string // label substrings marking the rear camera
	SuccessCooldown   time.Duration
	FailureCooldown   time.Duration
	MinScanInterval   time.Duration
	LookupTimeout     time.Duration
	SelectionTimeout  time.Duration
	FrameWidth        int
	FrameHeight       int
}

// CacheConfig contains generative lookup cache settings
type CacheConfig struct {
	Backend       string // "memory", "redis" or "none"
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// SaleConfig contains point-of-sale settings
type SaleConfig struct {
	ReceiptsDir string
	MaxQuantity int
}

// LoggerConfig contains logging settings
type LoggerConfig struct {
	Level  string
	Format string // "text" or "json"
	File   string // optional, logs are fanned out to this file as text
}

// yamlConfig represents the structure of tillscan.yaml
type yamlConfig struct {
	API struct {
		Listen    string `yaml:"listen"`
		RateLimit *int   `yaml:"rate_limit"`
	} `yaml:"api"`
	Catalog struct {
		Mode     string        `yaml:"mode"`
		BaseURL  string        `yaml:"base_url"`
		SeedFile string        `yaml:"seed_file"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"catalog"`
	Generative struct {
		URL     string        `yaml:"url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"generative"`
	Scanner struct {
		PreferredKeywords []string      `yaml:"preferred_keywords"`
		SuccessCooldown   time.Duration `yaml:"success_cooldown"`
		FailureCooldown   time.Duration `yaml:"failure_cooldown"`
		MinScanInterval   time.Duration `yaml:"min_scan_interval"`
		LookupTimeout     time.Duration `yaml:"lookup_timeout"`
		SelectionTimeout  time.Duration `yaml:"selection_timeout"`
	} `yaml:"scanner"`
	Cache struct {
		Backend string        `yaml:"backend"`
		TTL     time.Duration `yaml:"ttl"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Sale struct {
		ReceiptsDir string `yaml:"receipts_dir"`
		MaxQuantity int    `yaml:"max_quantity"`
	} `yaml:"sale"`
	Logger struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logger"`
}

// Default returns configuration with defaults only
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":4580",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			RateLimit:    120,
		},
		Catalog: CatalogConfig{
			Mode:    "remote",
			BaseURL: "https://thirumalaimaligai.onrender.com/product",
			Timeout: 10 * time.Second,
		},
		Generative: GenerativeConfig{
			Timeout: 10 * time.Second,
		},
		Scanner: ScannerConfig{
			PreferredKeywords: []string{"back", "environment", "rear"},
			SuccessCooldown:   1500 * time.Millisecond,
			FailureCooldown:   2500 * time.Millisecond,
			MinScanInterval:   200 * time.Millisecond,
			LookupTimeout:     10 * time.Second,
			SelectionTimeout:  60 * time.Second,
			FrameWidth:        1280,
			FrameHeight:       720,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Sale: SaleConfig{
			MaxQuantity: 100,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "default",
	}
}

// Load returns configuration with defaults, overlaid by the YAML file at path
// (if it exists) and then by TILLSCAN_* environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.applyYAML(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.Source = path
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Environment variables override everything
	if cfg.applyEnv() {
		cfg.Source += "+env"
	}

	for _, w := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", w)
	}

	return cfg, nil
}

func (c *Config) applyYAML(data []byte) error {
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return err
	}

	setString(&c.Server.Listen, y.API.Listen)
	if y.API.RateLimit != nil {
		c.Server.RateLimit = *y.API.RateLimit
	}

	setString(&c.Catalog.Mode, y.Catalog.Mode)
	setString(&c.Catalog.BaseURL, y.Catalog.BaseURL)
	setString(&c.Catalog.SeedFile, y.Catalog.SeedFile)
	setDuration(&c.Catalog.Timeout, y.Catalog.Timeout)

	setString(&c.Generative.URL, y.Generative.URL)
	setString(&c.Generative.APIKey, y.Generative.APIKey)
	setDuration(&c.Generative.Timeout, y.Generative.Timeout)

	if len(y.Scanner.PreferredKeywords) > 0 {
		c.Scanner.PreferredKeywords = y.Scanner.PreferredKeywords
	}
	setDuration(&c.Scanner.SuccessCooldown, y.Scanner.SuccessCooldown)
	setDuration(&c.Scanner.FailureCooldown, y.Scanner.FailureCooldown)
	setDuration(&c.Scanner.MinScanInterval, y.Scanner.MinScanInterval)
	setDuration(&c.Scanner.LookupTimeout, y.Scanner.LookupTimeout)
	setDuration(&c.Scanner.SelectionTimeout, y.Scanner.SelectionTimeout)

	setString(&c.Cache.Backend, y.Cache.Backend)
	setDuration(&c.Cache.TTL, y.Cache.TTL)
	setString(&c.Cache.RedisAddr, y.Cache.Redis.Addr)
	setString(&c.Cache.RedisPassword, y.Cache.Redis.Password)
	if y.Cache.Redis.DB > 0 {
		c.Cache.RedisDB = y.Cache.Redis.DB
	}

	setString(&c.Sale.ReceiptsDir, y.Sale.ReceiptsDir)
	if y.Sale.MaxQuantity > 0 {
		c.Sale.MaxQuantity = y.Sale.MaxQuantity
	}

	setString(&c.Logger.Level, y.Logger.Level)
	setString(&c.Logger.Format, y.Logger.Format)
	setString(&c.Logger.File, y.Logger.File)

	return nil
}

// applyEnv applies TILLSCAN_* overrides and reports whether any was set
func (c *Config) applyEnv() bool {
	applied := false
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
			applied = true
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
				applied = true
			} else {
				fmt.Fprintf(os.Stderr, "WARN: ignoring %s=%q: %v\n", key, v, err)
			}
		}
	}

	str("TILLSCAN_API_LISTEN", &c.Server.Listen)
	str("TILLSCAN_CATALOG_MODE", &c.Catalog.Mode)
	str("TILLSCAN_CATALOG_URL", &c.Catalog.BaseURL)
	str("TILLSCAN_CATALOG_SEED", &c.Catalog.SeedFile)
	str("TILLSCAN_GENERATIVE_URL", &c.Generative.URL)
	str("TILLSCAN_GENERATIVE_API_KEY", &c.Generative.APIKey)
	str("TILLSCAN_CACHE_BACKEND", &c.Cache.Backend)
	str("TILLSCAN_REDIS_ADDR", &c.Cache.RedisAddr)
	str("TILLSCAN_RECEIPTS_DIR", &c.Sale.ReceiptsDir)
	str("TILLSCAN_LOG_LEVEL", &c.Logger.Level)
	str("TILLSCAN_LOG_FORMAT", &c.Logger.Format)
	str("TILLSCAN_LOG_FILE", &c.Logger.File)
	dur("TILLSCAN_SUCCESS_COOLDOWN", &c.Scanner.SuccessCooldown)
	dur("TILLSCAN_FAILURE_COOLDOWN", &c.Scanner.FailureCooldown)
	dur("TILLSCAN_LOOKUP_TIMEOUT", &c.Scanner.LookupTimeout)

	return applied
}

// Validate resets out-of-range values to their defaults and returns a warning
// for each value it replaced.
func (c *Config) Validate() []string {
	def := Default()
	var warnings []string
	reset := func(msg string) { warnings = append(warnings, msg) }

	if err := validateListen(c.Server.Listen); err != nil {
		reset(fmt.Sprintf("invalid listen address '%s': %v, using %s", c.Server.Listen, err, def.Server.Listen))
		c.Server.Listen = def.Server.Listen
	}

	switch c.Catalog.Mode {
	case "remote", "memory":
	default:
		reset(fmt.Sprintf("unknown catalog mode '%s', using %s", c.Catalog.Mode, def.Catalog.Mode))
		c.Catalog.Mode = def.Catalog.Mode
	}

	if !inRange(c.Scanner.SuccessCooldown, 500*time.Millisecond, 10*time.Second) {
		reset(fmt.Sprintf("success cooldown %s out of range (500ms-10s), using %s", c.Scanner.SuccessCooldown, def.Scanner.SuccessCooldown))
		c.Scanner.SuccessCooldown = def.Scanner.SuccessCooldown
	}
	if !inRange(c.Scanner.FailureCooldown, 500*time.Millisecond, 10*time.Second) {
		reset(fmt.Sprintf("failure cooldown %s out of range (500ms-10s), using %s", c.Scanner.FailureCooldown, def.Scanner.FailureCooldown))
		c.Scanner.FailureCooldown = def.Scanner.FailureCooldown
	}
	if !inRange(c.Scanner.MinScanInterval, 0, 2*time.Second) {
		reset(fmt.Sprintf("min scan interval %s out of range (0-2s), using %s", c.Scanner.MinScanInterval, def.Scanner.MinScanInterval))
		c.Scanner.MinScanInterval = def.Scanner.MinScanInterval
	}
	if !inRange(c.Scanner.LookupTimeout, time.Second, time.Minute) {
		reset(fmt.Sprintf("lookup timeout %s out of range (1s-60s), using %s", c.Scanner.LookupTimeout, def.Scanner.LookupTimeout))
		c.Scanner.LookupTimeout = def.Scanner.LookupTimeout
	}
	if !inRange(c.Catalog.Timeout, time.Second, time.Minute) {
		reset(fmt.Sprintf("catalog timeout %s out of range (1s-60s), using %s", c.Catalog.Timeout, def.Catalog.Timeout))
		c.Catalog.Timeout = def.Catalog.Timeout
	}
	if !inRange(c.Generative.Timeout, time.Second, time.Minute) {
		reset(fmt.Sprintf("generative timeout %s out of range (1s-60s), using %s", c.Generative.Timeout, def.Generative.Timeout))
		c.Generative.Timeout = def.Generative.Timeout
	}

	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			reset("redis cache selected without an address, using memory")
			c.Cache.Backend = "memory"
		}
	default:
		reset(fmt.Sprintf("unknown cache backend '%s', using %s", c.Cache.Backend, def.Cache.Backend))
		c.Cache.Backend = def.Cache.Backend
	}

	if c.Sale.MaxQuantity < 1 {
		c.Sale.MaxQuantity = def.Sale.MaxQuantity
	}

	return warnings
}

// validateListen validates the listen address format and port range
func validateListen(listen string) error {
	if listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	// Parse the listen address
	parts := strings.Split(listen, ":")
	if len(parts) < 2 {
		return fmt.Errorf("invalid format, expected ':port' or 'host:port', got '%s'", listen)
	}

	// Get port (last part)
	portStr := parts[len(parts)-1]
	if portStr == "" {
		return fmt.Errorf("port cannot be empty")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of valid range (1-65535)", port)
	}

	return nil
}

// SetupLogger configures the application logger. When a log file is
// configured, records are fanned out to stdout and the file.
func (c *Config) SetupLogger(stdout io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch c.Logger.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if c.Logger.Format == "json" {
		handler = slog.NewJSONHandler(stdout, opts)
	} else {
		handler = slog.NewTextHandler(stdout, opts)
	}

	if c.Logger.File == "" {
		return slog.New(handler), io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(c.Logger.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	fanout := slogmulti.Fanout(handler, slog.NewTextHandler(f, opts))
	return slog.New(fanout), f, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func inRange(d, lo, hi time.Duration) bool {
	return d >= lo && d <= hi
}
