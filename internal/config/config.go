package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

const EnvPrefix = "APKBAN_"

const (
	StorageDriverJSON   = "json"
	StorageDriverSQLite = "sqlite"
)

type (
	Config struct {
		TelegramAPIToken string `env:"TOKEN,required"`
		DefaultLanguage  string `env:"LANG,default=en"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		LogFile          string `env:"LOG_FILE"`
		DotPath          string `env:"DOT_PATH,default=~/.apkban"`
		Strikes          Strikes
		Storage          Storage
		Telegram         Telegram
		Observability    Observability
	}

	Strikes struct {
		MaxStrikes          int      `env:"MAX_STRIKES,default=3"`
		MuteDurationSeconds int      `env:"MUTE_DURATION_SECONDS,default=600"`
		ExcludeAdmins       bool     `env:"EXCLUDE_ADMINS,default=true"`
		APKExtensions       []string `env:"APK_EXTENSIONS,default=.apk,.xapk,.apks,.apkm"`
	}

	Storage struct {
		Path   string `env:"STRIKES_STORAGE_PATH,default=strikes.json"`
		Driver string `env:"STRIKES_STORAGE_DRIVER,default=json"`
		Strict bool   `env:"STRICT_STORAGE,default=false"`
	}

	Telegram struct {
		RateLimit     float64       `env:"TELEGRAM_RATE_LIMIT,default=20"`
		RateBurst     int           `env:"TELEGRAM_RATE_BURST,default=5"`
		UpdateTimeout time.Duration `env:"UPDATE_TIMEOUT,default=5m"`
	}

	Observability struct {
		MetricsListen string `env:"METRICS_LISTEN,default=:2112"`
		StatsSchedule string `env:"STATS_SCHEDULE,default=@every 5m"`
	}
)

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (*Config, error) {
	loadDotEnv()
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadOffline is Load for commands that never talk to the Bot API, so the token may be absent.
func LoadOffline(ctx context.Context) (*Config, error) {
	loadDotEnv()
	return LoadWith(ctx, envconfig.MultiLookuper(
		envconfig.OsLookuper(),
		envconfig.MapLookuper(map[string]string{EnvPrefix + "TOKEN": "offline"}),
	))
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.WithField("error", err.Error()).Trace("no .env file loaded")
	}
}

func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	cfg.Strikes.APKExtensions = NormalizeExtensions(cfg.Strikes.APKExtensions)
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Traceln("loaded config")
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Strikes.MaxStrikes < 1:
		return fmt.Errorf("max strikes must be at least 1, got %d", c.Strikes.MaxStrikes)
	case c.Strikes.MuteDurationSeconds <= 0:
		return fmt.Errorf("mute duration must be positive, got %d", c.Strikes.MuteDurationSeconds)
	case len(c.Strikes.APKExtensions) == 0:
		return fmt.Errorf("at least one apk extension is required")
	case c.Storage.Driver != StorageDriverJSON && c.Storage.Driver != StorageDriverSQLite:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	case c.Telegram.RateLimit <= 0 || c.Telegram.RateBurst < 1:
		return fmt.Errorf("telegram rate limit must be positive")
	}
	return nil
}

func (s Strikes) MuteDuration() time.Duration {
	return time.Duration(s.MuteDurationSeconds) * time.Second
}

// StoragePath resolves the ledger location; relative paths live under DotPath.
func (c *Config) StoragePath() string {
	path, err := homedir.Expand(c.Storage.Path)
	if err != nil {
		path = c.Storage.Path
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DotPath, path)
}

// NormalizeExtensions lower-cases, trims and dot-prefixes each suffix, dropping blanks and duplicates.
func NormalizeExtensions(exts []string) []string {
	res := make([]string, 0, len(exts))
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		res = append(res, ext)
	}
	return res
}
