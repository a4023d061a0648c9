// Package config loads and validates the service configuration snapshot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen   = ":4000"
	defaultHealthPath   = "/healthz"
	defaultReadyPath    = "/readyz"
	defaultWebhookPath  = "/"
	defaultNATSURL      = "nats://127.0.0.1:4222"
	defaultNATSSubject  = "pokealert.events"
	defaultNATSStream   = "POKEALERT_EVENTS"
	defaultNATSConsumer = "pokealert-ingest"
	defaultNATSGroup    = "pokealert-workers"
	defaultNATSWorkers  = 1
	defaultNATSAckWait  = 30
	defaultGraceSec     = 10
	defaultQueueSize    = 500
	defaultUnits        = "metric"
	defaultTimezone     = "UTC"

	// CacheBackendMemory keeps dedup state in process memory only.
	CacheBackendMemory = "memory"
	// CacheBackendFile snapshots dedup state to one JSON file.
	CacheBackendFile = "file"
	// CacheBackendSQLite persists dedup state in one SQLite database.
	CacheBackendSQLite = "sqlite"
)

var (
	legacyManagerArrayPattern  = regexp.MustCompile(`(?m)^\s*\[\[\s*manager\s*\]\]`)
	unsupportedFiltersInline   = regexp.MustCompile(`(?mi)^\s*\[\s*manager\.[^.\]]+\.(filters|alarms|rules)\b`)
	unsupportedNATSFixedKeys   = regexp.MustCompile(`(?mi)^\s*deliver_group\s*=`)
	supportedCacheBackendNames = map[string]struct{}{
		CacheBackendMemory: {},
		CacheBackendFile:   {},
		CacheBackendSQLite: {},
	}
)

// Config holds service runtime settings and manager definitions.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig   `toml:"service"`
	Log     LogConfig       `toml:"log"`
	Ingest  IngestConfig    `toml:"ingest"`
	Manager []ManagerConfig `toml:"-"`
}

// rawConfig mirrors TOML model before runtime normalization.
// Params: decoded sections from one TOML source.
// Returns: raw manager map keyed by manager name.
type rawConfig struct {
	Service ServiceConfig               `toml:"service"`
	Log     LogConfig                   `toml:"log"`
	Ingest  IngestConfig                `toml:"ingest"`
	Manager map[string]rawManagerConfig `toml:"manager"`
}

// rawManagerConfig stores one manager body from `[manager.<name>]` table.
// Params: manager fields except top-level key-derived name.
// Returns: intermediate manager body used for normalization.
type rawManagerConfig struct {
	Name           string      `toml:"name"`
	Latitude       float64     `toml:"latitude"`
	Longitude      float64     `toml:"longitude"`
	Timezone       string      `toml:"timezone"`
	Units          string      `toml:"units"`
	LocaleFile     string      `toml:"locale_file"`
	MinTimeLeftSec int         `toml:"min_time_left_sec"`
	QueueSize      int         `toml:"queue_size"`
	GeofenceFile   string      `toml:"geofence_file"`
	AlarmsFile     string      `toml:"alarms_file"`
	FiltersFile    string      `toml:"filters_file"`
	RulesFile      string      `toml:"rules_file"`
	Cache          CacheConfig `toml:"cache"`
}

// ServiceConfig contains process-level settings.
// Params: service name and shutdown grace period.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name             string `toml:"name"`
	ShutdownGraceSec int    `toml:"shutdown_grace_sec"`
}

// LogConfig groups console and file log sinks.
// Params: per-sink settings from `[log.console]` / `[log.file]` tables.
// Returns: logging runtime options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig configures one log output sink.
// Params: enable flag, minimum level, format, and file path.
// Returns: sink behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound webhook interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the webhook HTTP endpoint.
// Params: enable flag, listen address, paths, and body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	WebhookPath  string `toml:"webhook_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures the JetStream queue-consumer feed.
// Params: connection, subject routing, and worker/ack policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled      bool     `toml:"enabled"`
	URL          []string `toml:"url"`
	Subject      string   `toml:"subject"`
	Stream       string   `toml:"stream"`
	Consumer     string   `toml:"consumer"`
	DeliverGroup string   `toml:"-"`
	Workers      int      `toml:"workers"`
	AckWaitSec   int      `toml:"ack_wait_sec"`
}

// ManagerConfig defines one event-processing manager instance.
// Params: home location, rendering options, document paths, and cache
// backend selection.
// Returns: per-manager runtime options.
type ManagerConfig struct {
	Name           string
	Latitude       float64
	Longitude      float64
	Timezone       string
	Units          string
	LocaleFile     string
	MinTimeLeftSec int
	QueueSize      int
	GeofenceFile   string
	AlarmsFile     string
	FiltersFile    string
	RulesFile      string
	Cache          CacheConfig
}

// CacheConfig selects the dedup cache backend for one manager.
// Params: backend name and backing path for persistent backends.
// Returns: cache construction options.
type CacheConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// rejectUnsupportedSyntax checks forbidden TOML syntax with explicit errors.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyManagerArrayPattern.Match(body) {
		return errors.New("legacy [[manager]] format is not supported; use [manager.<name>] tables")
	}
	if unsupportedFiltersInline.Match(body) {
		return errors.New("inline alarm/filter/rule tables are not supported; reference JSON documents via alarms_file/filters_file/rules_file")
	}
	if unsupportedNATSFixedKeys.Match(body) {
		return errors.New("ingest.nats.deliver_group is fixed in runtime and must not be configured")
	}
	return nil
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config from one fragment.
// Returns: normalized config snapshot.
func normalizeRawConfig(raw rawConfig) (Config, error) {
	cfg := Config{
		Service: raw.Service,
		Log:     raw.Log,
		Ingest:  raw.Ingest,
	}
	if len(raw.Manager) == 0 {
		return cfg, nil
	}

	names := make([]string, 0, len(raw.Manager))
	for name := range raw.Manager {
		names = append(names, name)
	}
	sort.Strings(names)
	cfg.Manager = make([]ManagerConfig, 0, len(names))
	for _, name := range names {
		body := raw.Manager[name]
		if strings.TrimSpace(body.Name) != "" {
			return Config{}, fmt.Errorf("manager.%s.name is not supported; use [manager.%s] key as manager name", name, name)
		}
		cfg.Manager = append(cfg.Manager, ManagerConfig{
			Name:           name,
			Latitude:       body.Latitude,
			Longitude:      body.Longitude,
			Timezone:       body.Timezone,
			Units:          body.Units,
			LocaleFile:     body.LocaleFile,
			MinTimeLeftSec: body.MinTimeLeftSec,
			QueueSize:      body.QueueSize,
			GeofenceFile:   body.GeofenceFile,
			AlarmsFile:     body.AlarmsFile,
			FiltersFile:    body.FiltersFile,
			RulesFile:      body.RulesFile,
			Cache:          body.Cache,
		})
	}
	return cfg, nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	cfg, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error; fragments merge
// in lexical file order.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if hasIngestConfig(src.Ingest) {
		dst.Ingest = src.Ingest
	}
	if len(src.Manager) > 0 {
		dst.Manager = append(dst.Manager, src.Manager...)
	}
}

// hasIngestConfig reports whether fragment carries ingest settings.
// Params: ingest section from one fragment.
// Returns: true when any field differs from the zero value.
func hasIngestConfig(cfg IngestConfig) bool {
	return cfg.HTTP != (HTTPIngestConfig{}) ||
		cfg.NATS.Enabled ||
		len(cfg.NATS.URL) > 0 ||
		cfg.NATS.Subject != "" ||
		cfg.NATS.Stream != "" ||
		cfg.NATS.Consumer != "" ||
		cfg.NATS.Workers != 0 ||
		cfg.NATS.AckWaitSec != 0
}

// applyDefaults fills unset configuration fields.
// Params: mutable configuration snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "pokealert"
	}
	if cfg.Service.ShutdownGraceSec <= 0 {
		cfg.Service.ShutdownGraceSec = defaultGraceSec
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
		cfg.Ingest.HTTP.Enabled = true
	}
	if cfg.Ingest.HTTP.Listen == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if cfg.Ingest.HTTP.HealthPath == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if cfg.Ingest.HTTP.ReadyPath == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.Ingest.HTTP.WebhookPath == "" {
		cfg.Ingest.HTTP.WebhookPath = defaultWebhookPath
	}
	if len(cfg.Ingest.NATS.URL) == 0 {
		cfg.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Ingest.NATS.Subject == "" {
		cfg.Ingest.NATS.Subject = defaultNATSSubject
	}
	if cfg.Ingest.NATS.Stream == "" {
		cfg.Ingest.NATS.Stream = defaultNATSStream
	}
	if cfg.Ingest.NATS.Consumer == "" {
		cfg.Ingest.NATS.Consumer = defaultNATSConsumer
	}
	cfg.Ingest.NATS.DeliverGroup = defaultNATSGroup
	if cfg.Ingest.NATS.Workers <= 0 {
		cfg.Ingest.NATS.Workers = defaultNATSWorkers
	}
	if cfg.Ingest.NATS.AckWaitSec <= 0 {
		cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWait
	}

	for i := range cfg.Manager {
		manager := &cfg.Manager[i]
		if manager.Timezone == "" {
			manager.Timezone = defaultTimezone
		}
		if manager.Units == "" {
			manager.Units = defaultUnits
		}
		if manager.QueueSize <= 0 {
			manager.QueueSize = defaultQueueSize
		}
		if manager.Cache.Backend == "" {
			manager.Cache.Backend = CacheBackendMemory
		}
	}
}

// validateConfig checks configuration invariants after defaults.
// Params: configuration snapshot.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	if len(cfg.Manager) == 0 {
		return errors.New("at least one [manager.<name>] section is required")
	}
	seen := make(map[string]struct{}, len(cfg.Manager))
	for _, manager := range cfg.Manager {
		if _, dup := seen[manager.Name]; dup {
			return fmt.Errorf("duplicate manager name %q", manager.Name)
		}
		seen[manager.Name] = struct{}{}
		if err := validateManager(manager); err != nil {
			return err
		}
	}
	if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
		return errors.New("at least one ingest interface must be enabled")
	}
	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when log.file.enabled is true")
	}
	return nil
}

// validateManager checks one manager definition.
// Params: manager config after defaults.
// Returns: first validation error naming the manager.
func validateManager(manager ManagerConfig) error {
	prefix := "manager." + manager.Name
	if manager.Latitude < -90 || manager.Latitude > 90 {
		return fmt.Errorf("%s.latitude %v out of range", prefix, manager.Latitude)
	}
	if manager.Longitude < -180 || manager.Longitude > 180 {
		return fmt.Errorf("%s.longitude %v out of range", prefix, manager.Longitude)
	}
	if manager.Units != "metric" && manager.Units != "imperial" {
		return fmt.Errorf("%s.units must be metric or imperial, got %q", prefix, manager.Units)
	}
	if _, err := time.LoadLocation(manager.Timezone); err != nil {
		return fmt.Errorf("%s.timezone %q: %w", prefix, manager.Timezone, err)
	}
	if strings.TrimSpace(manager.AlarmsFile) == "" {
		return fmt.Errorf("%s.alarms_file is required", prefix)
	}
	if strings.TrimSpace(manager.FiltersFile) == "" {
		return fmt.Errorf("%s.filters_file is required", prefix)
	}
	if manager.MinTimeLeftSec < 0 {
		return fmt.Errorf("%s.min_time_left_sec must not be negative", prefix)
	}
	if _, ok := supportedCacheBackendNames[manager.Cache.Backend]; !ok {
		return fmt.Errorf("%s.cache.backend %q is not supported", prefix, manager.Cache.Backend)
	}
	if manager.Cache.Backend != CacheBackendMemory && strings.TrimSpace(manager.Cache.Path) == "" {
		return fmt.Errorf("%s.cache.path is required for backend %q", prefix, manager.Cache.Backend)
	}
	return nil
}
