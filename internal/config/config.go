package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mantonx/mediaconv/internal/logger"
)

// Config is the full mediaconv configuration file
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Conversion ConversionConfig `yaml:"conversion" json:"conversion"`
	HWAccel    HWAccelConfig    `yaml:"hwaccel" json:"hwaccel"`
	Events     EventsConfig     `yaml:"events" json:"events"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP listener and API auth
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host" env:"MEDIACONV_HOST"`
	Port            int           `yaml:"port" json:"port" env:"MEDIACONV_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"MEDIACONV_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"MEDIACONV_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"MEDIACONV_SHUTDOWN_TIMEOUT"`
	EnableCORS      bool          `yaml:"enable_cors" json:"enable_cors" env:"MEDIACONV_ENABLE_CORS"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"MEDIACONV_TRUSTED_PROXIES"`

	// AuthSecret enables HS256 bearer authentication on the API when set
	AuthSecret string `yaml:"auth_secret" json:"-" env:"MEDIACONV_AUTH_SECRET"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE"`
	URL          string `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"MEDIACONV_DATA_DIR"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"MEDIACONV_DATABASE_PATH"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES"`
}

// ConversionConfig holds the user-facing conversion settings
type ConversionConfig struct {
	// MaxConcurrency of 0 derives the limit from the host's CPU count
	MaxConcurrency     int     `yaml:"max_concurrency" json:"max_concurrency" env:"MEDIACONV_MAX_CONCURRENCY"`
	ConversionMode     string  `yaml:"conversion_mode" json:"conversion_mode" env:"MEDIACONV_CONVERSION_MODE"`
	DefaultEncoder     string  `yaml:"default_encoder" json:"default_encoder" env:"MEDIACONV_DEFAULT_ENCODER"`
	FFmpegPath         string  `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"FFMPEG_PATH"`
	FFprobePath        string  `yaml:"ffprobe_path" json:"ffprobe_path" env:"FFPROBE_PATH"`
	OpenWhenFinished   bool    `yaml:"open_when_finished" json:"open_when_finished" env:"MEDIACONV_OPEN_WHEN_FINISHED"`
	ProgressRatePerSec float64 `yaml:"progress_rate_per_sec" json:"progress_rate_per_sec" env:"MEDIACONV_PROGRESS_RATE"`
}

// HWAccelConfig selects the hardware encoder source
type HWAccelConfig struct {
	// Vendor is auto, amd, nvidia, intel or none
	Vendor    string `yaml:"vendor" json:"vendor" env:"MEDIACONV_HWACCEL_VENDOR"`
	PluginDir string `yaml:"plugin_dir" json:"plugin_dir" env:"MEDIACONV_PLUGIN_DIR"`
}

// EventsConfig configures the event bus
type EventsConfig struct {
	BufferSize int           `yaml:"buffer_size" json:"buffer_size" env:"MEDIACONV_EVENT_BUFFER"`
	Persist    bool          `yaml:"persist" json:"persist" env:"MEDIACONV_EVENT_PERSIST"`
	MaxAge     time.Duration `yaml:"max_age" json:"max_age" env:"MEDIACONV_EVENT_MAX_AGE"`
}

// LoggingConfig selects the hclog level and output format
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"MEDIACONV_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"MEDIACONV_LOG_FORMAT"`
}

// ConfigManager holds the live configuration. Reload and Update swap it
// atomically and run every watcher with the old and new values.
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher observes a configuration swap
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the process-wide manager
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager returns a manager holding DefaultConfig
func NewConfigManager() *ConfigManager {
	cfg := DefaultConfig()
	applyDerivedConfig(cfg)
	return &ConfigManager{
		config:   cfg,
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the values used for anything the file and
// environment leave unset
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			EnableCORS:      true,
			TrustedProxies:  []string{},
		},
		Database: DatabaseConfig{
			Type:         "sqlite",
			Host:         "localhost",
			Port:         5432,
			Username:     "mediaconv",
			Database:     "mediaconv",
			DataDir:      "./data",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Conversion: ConversionConfig{
			MaxConcurrency:     0,
			ConversionMode:     "normal",
			DefaultEncoder:     "libx264",
			FFmpegPath:         "ffmpeg",
			FFprobePath:        "ffprobe",
			ProgressRatePerSec: 4,
		},
		HWAccel: HWAccelConfig{
			Vendor:    "auto",
			PluginDir: "./plugins",
		},
		Events: EventsConfig{
			BufferSize: 1000,
			Persist:    false,
			MaxAge:     7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file and environment variables, then
// notifies watchers
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		logger.Info("Configuration loaded from file: %s", configPath)
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := Validate(newConfig); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	applyDerivedConfig(newConfig)
	cm.config = newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	notify(watchers, &oldConfig, newConfig)
	return nil
}

// Reload re-reads the file LoadConfig was last called with
func (cm *ConfigManager) Reload() error {
	cm.mu.RLock()
	path := cm.configPath
	cm.mu.RUnlock()
	return cm.LoadConfig(path)
}

// Update applies fn to a copy of the configuration, validates it, persists
// it when a config path is set and notifies watchers.
func (cm *ConfigManager) Update(fn func(*Config)) (*Config, error) {
	cm.mu.Lock()

	oldConfig := *cm.config
	newConfig := *cm.config
	fn(&newConfig)

	if err := Validate(&newConfig); err != nil {
		cm.mu.Unlock()
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if cm.configPath != "" {
		if err := saveToFile(cm.configPath, &newConfig); err != nil {
			cm.mu.Unlock()
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	cm.config = &newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	notify(watchers, &oldConfig, &newConfig)
	result := newConfig
	return &result, nil
}

// GetConfig returns the live configuration. Callers must not mutate it.
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// ConfigPath returns the file the configuration was loaded from
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// AddWatcher registers watcher for every later swap
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// Watchers run in registration order on the caller's goroutine so a limit
// change is applied before the next one is read.
func notify(watchers []ConfigWatcher, oldConfig, newConfig *Config) {
	for _, watcher := range watchers {
		watcher(oldConfig, newConfig)
	}
}

// Validate checks a configuration for values the service cannot run with
func Validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Conversion.MaxConcurrency < 0 {
		return fmt.Errorf("invalid max concurrency: %d", config.Conversion.MaxConcurrency)
	}

	switch config.Conversion.ConversionMode {
	case "normal", "lossless", "hwaccel":
	default:
		return fmt.Errorf("invalid conversion mode: %q", config.Conversion.ConversionMode)
	}

	switch strings.ToLower(config.HWAccel.Vendor) {
	case "", "auto", "amd", "nvidia", "intel", "none":
	default:
		return fmt.Errorf("invalid hwaccel vendor: %q", config.HWAccel.Vendor)
	}

	if config.Conversion.ProgressRatePerSec < 0 {
		return fmt.Errorf("invalid progress rate: %v", config.Conversion.ProgressRatePerSec)
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "mediaconv.db")
	}
	if config.HWAccel.Vendor == "" {
		config.HWAccel.Vendor = "auto"
	}
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// loadStructFromEnv overrides fields whose env tag names a set variable
func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Process-wide helpers

// Get returns the process-wide live configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load reads configPath into the process-wide manager
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}
