package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	InstanceID  string `env:"INSTANCE_ID"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	DiscordBotToken    string `env:"DISCORD_BOT_TOKEN"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	YouTubeAPIKey      string `env:"YOUTUBE_API_KEY"`
	KickEnabled        bool   `env:"KICK_ENABLED" default:"true"`

	PollInterval        time.Duration `env:"POLL_INTERVAL" default:"90s"`
	TeamSyncInterval    time.Duration `env:"TEAM_SYNC_INTERVAL" default:"1h"`
	LivenessTTL         time.Duration `env:"LIVENESS_TTL" default:"75s"`
	GuildSettingsTTL    time.Duration `env:"GUILD_SETTINGS_TTL" default:"300s"`
	ProbeConcurrency    int           `env:"PROBE_CONCURRENCY" default:"8"`
	ProbeRatePerSecond  float64       `env:"PROBE_RATE_PER_SECOND" default:"10"`
	RefreshEveryNPasses int           `env:"REFRESH_EVERY_N_PASSES" default:"5"`

	WorkerCount       int           `env:"WORKER_COUNT" default:"4"`
	JobMaxAttempts    int           `env:"JOB_MAX_ATTEMPTS" default:"5"`
	JobInitialBackoff time.Duration `env:"JOB_INITIAL_BACKOFF" default:"2s"`
	JobLease          time.Duration `env:"JOB_LEASE" default:"2m"`

	AuthoritativePlatform  string `env:"AUTHORITATIVE_PLATFORM" default:"twitch"`
	TeamSyncExclusionsFile string `env:"TEAM_SYNC_EXCLUSIONS_FILE"`

	AdminToken   string `env:"ADMIN_TOKEN"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

func (c *Config) TwitchEnabled() bool { return c.TwitchClientID != "" && c.TwitchClientSecret != "" }

func (c *Config) YouTubeEnabled() bool { return c.YouTubeAPIKey != "" }

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "livebot"
		}
		cfg.InstanceID = host
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":      cfg.DatabaseURL,
		"REDIS_URL":         cfg.RedisURL,
		"DISCORD_BOT_TOKEN": cfg.DiscordBotToken,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if (cfg.TwitchClientID == "") != (cfg.TwitchClientSecret == "") {
		return errors.New("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET must be set together")
	}
	if !cfg.TwitchEnabled() && !cfg.YouTubeEnabled() && !cfg.KickEnabled {
		return errors.New("at least one platform must be configured (twitch, youtube or kick)")
	}

	switch cfg.AuthoritativePlatform {
	case "twitch", "kick", "youtube":
	default:
		return fmt.Errorf("AUTHORITATIVE_PLATFORM %q is not a known platform", cfg.AuthoritativePlatform)
	}

	positive := map[string]int{
		"PROBE_CONCURRENCY":      cfg.ProbeConcurrency,
		"REFRESH_EVERY_N_PASSES": cfg.RefreshEveryNPasses,
		"WORKER_COUNT":           cfg.WorkerCount,
		"JOB_MAX_ATTEMPTS":       cfg.JobMaxAttempts,
	}
	for name, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, value)
		}
	}
	if cfg.PollInterval < 10*time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 10s, got %s", cfg.PollInterval)
	}

	if cfg.TokenEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	if cfg.IsProduction() {
		mode, err := sslMode(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "" {
		mode = "prefer"
	}
	return mode, nil
}

// Exclusion names an account that must never be auto-linked by team sync.
type Exclusion struct {
	Platform string `yaml:"platform"`
	Username string `yaml:"username"`
}

type exclusionFile struct {
	Excluded []Exclusion `yaml:"excluded"`
}

// LoadExclusions reads the team sync exclusion list. An empty path yields an empty list.
func LoadExclusions(path string) ([]Exclusion, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exclusions file: %w", err)
	}

	var f exclusionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse exclusions file %s: %w", path, err)
	}

	for i, e := range f.Excluded {
		if e.Platform == "" || e.Username == "" {
			return nil, fmt.Errorf("exclusion %d: platform and username are required", i)
		}
		f.Excluded[i].Platform = strings.ToLower(e.Platform)
		f.Excluded[i].Username = strings.ToLower(e.Username)
	}
	return f.Excluded, nil
}
