// Package config loads the bot configuration from an optional TOML file and the
// process environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/foobles/discord-bot/internal/protocol"
)

const (
	CheckpointNone   = "none"
	CheckpointSQLite = "sqlite"
	CheckpointFile   = "file"
)

var ErrTokenRequired = errors.New("config: token required")

type Config struct {
	Token            string
	Intents          []string
	GatewayVersion   string
	RESTBaseURL      string
	HandshakeTimeout time.Duration
	// MaxRetries bounds the 429 retries per REST call; negative waits them out indefinitely.
	MaxRetries    int
	CommandPrefix string
	Status        protocol.Status
	// AnnounceChannels are channel ids greeted after every READY.
	AnnounceChannels []string
	// Admins are user ids allowed to run admin commands.
	Admins []string
	// CommandsPerMinute caps commands per user; zero disables the cap.
	CommandsPerMinute int
	// AuditLog is the JSONL file recording command invocations; empty disables it.
	AuditLog string

	LogLevel  string
	LogFormat string

	// HTTPAddr is the status listener; empty disables it.
	HTTPAddr string
	// HTTPToken guards the write endpoints; empty disables them.
	HTTPToken string

	CheckpointBackend string
	CheckpointPath    string
	CheckpointName    string
}

func Default() Config {
	return Config{
		Intents:           []string{"GUILDS", "GUILD_MESSAGES", "DIRECT_MESSAGES"},
		GatewayVersion:    "8",
		RESTBaseURL:       "https://discord.com/api/v8",
		HandshakeTimeout:  30 * time.Second,
		MaxRetries:        3,
		CommandPrefix:     "eg!",
		CommandsPerMinute: 20,
		Status:            protocol.StatusOnline,
		LogLevel:          "info",
		LogFormat:         "json",
		HTTPAddr:          "127.0.0.1:9464",
		CheckpointBackend: CheckpointNone,
		CheckpointPath:    "discord-bot.db",
		CheckpointName:    "default",
	}
}

type fileConfig struct {
	Token            string   `toml:"token"`
	Intents          []string `toml:"intents"`
	GatewayVersion   string   `toml:"gateway_version"`
	RESTBaseURL      string   `toml:"rest_base_url"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	MaxRetries       int      `toml:"max_retries"`
	CommandPrefix    string   `toml:"command_prefix"`
	Status           string   `toml:"status"`
	AnnounceChannels []string `toml:"announce_channels"`
	Admins           []string `toml:"admins"`
	CommandsPerMin   int      `toml:"commands_per_minute"`
	AuditLog         string   `toml:"audit_log"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	HTTP struct {
		Addr  string `toml:"addr"`
		Token string `toml:"token"`
	} `toml:"http"`

	Checkpoint struct {
		Backend string `toml:"backend"`
		Path    string `toml:"path"`
		Name    string `toml:"name"`
	} `toml:"checkpoint"`
}

// Load starts from Default, applies the file at path when path is not empty, then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("intents") {
		cfg.Intents = normalizeList(raw.Intents)
	}
	if meta.IsDefined("gateway_version") {
		cfg.GatewayVersion = strings.TrimSpace(raw.GatewayVersion)
	}
	if meta.IsDefined("rest_base_url") {
		cfg.RESTBaseURL = strings.TrimSpace(raw.RESTBaseURL)
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if meta.IsDefined("max_retries") {
		cfg.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("command_prefix") {
		cfg.CommandPrefix = raw.CommandPrefix
	}
	if meta.IsDefined("status") {
		cfg.Status = protocol.Status(strings.TrimSpace(raw.Status))
	}
	if meta.IsDefined("announce_channels") {
		cfg.AnnounceChannels = normalizeList(raw.AnnounceChannels)
	}
	if meta.IsDefined("admins") {
		cfg.Admins = normalizeList(raw.Admins)
	}
	if meta.IsDefined("commands_per_minute") {
		cfg.CommandsPerMinute = raw.CommandsPerMin
	}
	if meta.IsDefined("audit_log") {
		cfg.AuditLog = strings.TrimSpace(raw.AuditLog)
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.LogFormat = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("http", "addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("http", "token") {
		cfg.HTTPToken = strings.TrimSpace(raw.HTTP.Token)
	}
	if meta.IsDefined("checkpoint", "backend") {
		cfg.CheckpointBackend = strings.TrimSpace(raw.Checkpoint.Backend)
	}
	if meta.IsDefined("checkpoint", "path") {
		cfg.CheckpointPath = strings.TrimSpace(raw.Checkpoint.Path)
	}
	if meta.IsDefined("checkpoint", "name") {
		cfg.CheckpointName = strings.TrimSpace(raw.Checkpoint.Name)
	}
	return nil
}

func (cfg *Config) applyEnv(lookup func(string) string) error {
	getenv := func(k, fallback string) string {
		v := lookup(k)
		if v == "" {
			return fallback
		}
		return v
	}

	cfg.Token = strings.TrimSpace(getenv("DISCORD_TOKEN", cfg.Token))
	if v := lookup("DISCORD_INTENTS"); v != "" {
		cfg.Intents = ParseCSV(v)
	}
	if v := lookup("DISCORD_ANNOUNCE_CHANNELS"); v != "" {
		cfg.AnnounceChannels = ParseCSV(v)
	}
	if v := lookup("DISCORD_ADMINS"); v != "" {
		cfg.Admins = ParseCSV(v)
	}
	cfg.GatewayVersion = getenv("DISCORD_GATEWAY_VERSION", cfg.GatewayVersion)
	cfg.RESTBaseURL = getenv("DISCORD_REST_URL", cfg.RESTBaseURL)
	cfg.CommandPrefix = getenv("DISCORD_COMMAND_PREFIX", cfg.CommandPrefix)
	cfg.Status = protocol.Status(getenv("DISCORD_STATUS", string(cfg.Status)))
	cfg.AuditLog = getenv("AUDIT_LOG", cfg.AuditLog)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.HTTPToken = getenv("HTTP_TOKEN", cfg.HTTPToken)
	cfg.CheckpointBackend = getenv("CHECKPOINT_BACKEND", cfg.CheckpointBackend)
	cfg.CheckpointPath = getenv("CHECKPOINT_PATH", cfg.CheckpointPath)
	cfg.CheckpointName = getenv("CHECKPOINT_NAME", cfg.CheckpointName)

	if v := lookup("DISCORD_HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse DISCORD_HANDSHAKE_TIMEOUT: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if v := lookup("DISCORD_COMMANDS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DISCORD_COMMANDS_PER_MINUTE: %w", err)
		}
		cfg.CommandsPerMinute = n
	}
	if v := lookup("DISCORD_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DISCORD_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = n
	}
	return nil
}

func (cfg Config) Validate() error {
	var errs []error
	if cfg.Token == "" {
		errs = append(errs, ErrTokenRequired)
	}
	if _, err := cfg.IntentMask(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.AnnounceIDs(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.AdminIDs(); err != nil {
		errs = append(errs, err)
	}
	if cfg.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("config: handshake_timeout must be positive"))
	}
	if cfg.CommandsPerMinute < 0 {
		errs = append(errs, errors.New("config: commands_per_minute must not be negative"))
	}
	if cfg.CommandPrefix == "" {
		errs = append(errs, errors.New("config: command_prefix required"))
	}
	if !cfg.Status.Valid() {
		errs = append(errs, fmt.Errorf("config: unknown status %q", cfg.Status))
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log format %q", cfg.LogFormat))
	}
	switch cfg.CheckpointBackend {
	case CheckpointNone:
	case CheckpointSQLite, CheckpointFile:
		if cfg.CheckpointPath == "" {
			errs = append(errs, errors.New("config: checkpoint path required"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown checkpoint backend %q", cfg.CheckpointBackend))
	}
	return errors.Join(errs...)
}

func (cfg Config) IntentMask() (protocol.Intents, error) {
	return protocol.ParseIntents(cfg.Intents)
}

func (cfg Config) AnnounceIDs() ([]protocol.Snowflake, error) {
	return parseIDs("announce channel", cfg.AnnounceChannels)
}

func (cfg Config) AdminIDs() ([]protocol.Snowflake, error) {
	return parseIDs("admin", cfg.Admins)
}

func parseIDs(what string, raw []string) ([]protocol.Snowflake, error) {
	ids := make([]protocol.Snowflake, 0, len(raw))
	for _, r := range raw {
		id, err := protocol.ParseSnowflake(r)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", what, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseCSV splits a comma-separated list, dropping blanks.
func ParseCSV(v string) []string {
	return normalizeList(strings.Split(v, ","))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		s := strings.TrimSpace(r)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
