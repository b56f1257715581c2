package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the stillpoint daemon.
//
// Defaults live in DefaultConfig. The effective config is built as
// defaults -> file -> environment -> flags, then validated once.
type Config struct {
	Engine     EngineFileConfig `yaml:"engine"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Audio      AudioConfig      `yaml:"audio"`
	Store      StoreConfig      `yaml:"store"`
	SessionLog SessionLogConfig `yaml:"session_log"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	IPC        IPCConfig        `yaml:"ipc"`
	HTTP       HTTPConfig       `yaml:"http"`
	Input      InputConfig      `yaml:"input"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type EngineFileConfig struct {
	TickHz int `yaml:"tick_hz"`

	// MaxTickDeltaSec caps the time credited by a single tick.
	MaxTickDeltaSec int `yaml:"max_tick_delta_sec"`

	// Timezone used to derive week keys ("Local", "UTC" or an IANA name).
	Timezone string `yaml:"timezone"`
}

// PlaybackConfig holds first-run defaults; persisted values win once present.
type PlaybackConfig struct {
	DefaultVolume float64 `yaml:"default_volume"`
	DefaultLoop   bool    `yaml:"default_loop"`
}

type AudioConfig struct {
	// WsURL of the audio sidecar. Empty disables audio output (log only).
	WsURL           string `yaml:"ws_url"`
	TimeoutMS       int    `yaml:"timeout_ms"`
	ConnectAttempts int    `yaml:"connect_attempts"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"` // "file", "redis" or "memory"
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SessionLogConfig struct {
	// Path to the sqlite database. Empty disables the session log.
	Path string `yaml:"path"`
}

type CatalogConfig struct {
	AmbienceFile  string `yaml:"ambience_file,omitempty"`
	ExercisesFile string `yaml:"exercises_file,omitempty"`
	Watch         bool   `yaml:"watch"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	// Listen address for the HTTP API and state websocket. Empty disables it.
	Listen string `yaml:"listen"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Engine: EngineFileConfig{
			TickHz:          defaultTickHz,
			MaxTickDeltaSec: int(defaultMaxTickDelta / time.Second),
			Timezone:        "Local",
		},
		Playback: PlaybackConfig{
			DefaultVolume: defaultVolume,
			DefaultLoop:   true,
		},
		Audio: AudioConfig{
			TimeoutMS:       defaultReadTimeoutMS,
			ConnectAttempts: defaultAudioAttempts,
		},
		Store: StoreConfig{
			Backend: "file",
			Dir:     "~/.local/state/stillpoint",
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "stillpoint:",
			},
		},
		SessionLog: SessionLogConfig{
			Path: "~/.local/state/stillpoint/sessions.db",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/stillpoint.sock",
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:3002",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected so typos surface at startup.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ApplyEnv loads envFile (if it exists) into the process environment and then
// applies STILLPOINT_* variables. Variables already set in the environment
// are never overwritten by the file.
func ApplyEnv(cfg *Config, envFile string) error {
	if cfg == nil {
		return nil
	}
	if envFile != "" {
		if err := godotenv.Load(ExpandPath(envFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg.Audio.WsURL = getEnv("STILLPOINT_AUDIO_WS_URL", cfg.Audio.WsURL)
	cfg.Store.Backend = getEnv("STILLPOINT_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Dir = getEnv("STILLPOINT_STORE_DIR", cfg.Store.Dir)
	cfg.Store.Redis.Addr = getEnv("STILLPOINT_REDIS_ADDR", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = getEnv("STILLPOINT_REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Store.Redis.DB = getEnvInt("STILLPOINT_REDIS_DB", cfg.Store.Redis.DB)
	cfg.SessionLog.Path = getEnv("STILLPOINT_SESSION_DB", cfg.SessionLog.Path)
	cfg.HTTP.Listen = getEnv("STILLPOINT_HTTP_LISTEN", cfg.HTTP.Listen)
	cfg.Logging.Level = getEnv("STILLPOINT_LOG_LEVEL", cfg.Logging.Level)
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// FlagOverrides holds values from command-line flags. A nil pointer means
// the flag was not given; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	TickHz          *int
	MaxTickDeltaSec *int
	Timezone        *string

	AudioWsURL *string

	StoreBackend *string
	StoreDir     *string
	RedisAddr    *string

	SessionDB *string

	AmbienceFile  *string
	ExercisesFile *string
	WatchCatalog  *bool

	IPCSocketPath *string
	HTTPListen    *string
	InputDevice   *string

	LogLevel *string
	LogFile  *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.TickHz != nil {
		cfg.Engine.TickHz = *o.TickHz
	}
	if o.MaxTickDeltaSec != nil {
		cfg.Engine.MaxTickDeltaSec = *o.MaxTickDeltaSec
	}
	if o.Timezone != nil {
		cfg.Engine.Timezone = *o.Timezone
	}
	if o.AudioWsURL != nil {
		cfg.Audio.WsURL = *o.AudioWsURL
	}
	if o.StoreBackend != nil {
		cfg.Store.Backend = *o.StoreBackend
	}
	if o.StoreDir != nil {
		cfg.Store.Dir = *o.StoreDir
	}
	if o.RedisAddr != nil {
		cfg.Store.Redis.Addr = *o.RedisAddr
	}
	if o.SessionDB != nil {
		cfg.SessionLog.Path = *o.SessionDB
	}
	if o.AmbienceFile != nil {
		cfg.Catalog.AmbienceFile = *o.AmbienceFile
	}
	if o.ExercisesFile != nil {
		cfg.Catalog.ExercisesFile = *o.ExercisesFile
	}
	if o.WatchCatalog != nil {
		cfg.Catalog.Watch = *o.WatchCatalog
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.InputDevice != nil {
		if *o.InputDevice == "" {
			cfg.Input.Devices = nil
		} else {
			cfg.Input.Devices = []string{*o.InputDevice}
		}
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.Engine.TickHz <= 0 || c.Engine.TickHz > 50 {
		return errors.New("engine.tick_hz must be between 1 and 50")
	}
	if c.Engine.MaxTickDeltaSec <= 0 {
		return errors.New("engine.max_tick_delta_sec must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}

	if c.Playback.DefaultVolume < 0 || c.Playback.DefaultVolume > maxVolume {
		return fmt.Errorf("playback.default_volume must be between 0 and %.1f", maxVolume)
	}

	if c.Audio.WsURL != "" {
		if c.Audio.TimeoutMS <= 0 {
			return errors.New("audio.timeout_ms must be > 0")
		}
		if c.Audio.ConnectAttempts <= 0 {
			return errors.New("audio.connect_attempts must be > 0")
		}
	}

	switch c.Store.Backend {
	case "file":
		if c.Store.Dir == "" {
			return errors.New("store.dir must not be empty for the file backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr must not be empty for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be %q, %q or %q", "file", "redis", "memory")
	}

	if c.Catalog.Watch && c.Catalog.AmbienceFile == "" && c.Catalog.ExercisesFile == "" {
		return errors.New("catalog.watch requires catalog.ambience_file or catalog.exercises_file")
	}

	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// Location resolves engine.timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Engine.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Engine.Timezone)
	}
}

// ToEngineConfig converts file config into the reducer's config.
func (c *Config) ToEngineConfig() EngineConfig {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return EngineConfig{
		MaxTickDelta: time.Duration(c.Engine.MaxTickDeltaSec) * time.Second,
		Location:     loc,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
