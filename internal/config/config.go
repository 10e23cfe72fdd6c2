package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Store struct {
		// Driver is one of postgres, sqlite or memory.
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
		Path   string `yaml:"path"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Progress struct {
		Timezone     string `yaml:"timezone"`
		StoreTimeout string `yaml:"store_timeout"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"progress"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Gemini struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"gemini"`
	Events struct {
		AMQPURL  string `yaml:"amqp_url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"events"`
	Leaderboard struct {
		Size         int    `yaml:"size"`
		RebuildEvery string `yaml:"rebuild_every"`
	} `yaml:"leaderboard"`
	Cache struct {
		ProfileTTL string `yaml:"profile_ttl"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case !os.IsNotExist(err):
		return cfg, err
	}
	applyEnv(&cfg)
	if tz := cfg.Progress.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return cfg, fmt.Errorf("progress.timezone %q: %w", tz, err)
		}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.URL, "DATABASE_URL")
	setString(&cfg.Store.Path, "SQLITE_PATH")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Events.AMQPURL, "AMQP_URL")
	setString(&cfg.Progress.Timezone, "PROGRESS_TIMEZONE")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Location resolves the calendar zone used for streak days. UTC when unset; Load has already
// rejected unknown names.
func Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StoreDriver returns the configured driver, inferring one when unset.
func (c Config) StoreDriver() string {
	if c.Store.Driver != "" {
		return c.Store.Driver
	}
	if c.Store.URL != "" {
		return "postgres"
	}
	if c.Store.Path != "" {
		return "sqlite"
	}
	return "memory"
}

// MaxAttempts bounds conflict retries of one submission.
func (c Config) MaxAttempts() int {
	if c.Progress.MaxAttempts <= 0 {
		return 3
	}
	return c.Progress.MaxAttempts
}

// LeaderboardSize is the number of ranked entries kept and served.
func (c Config) LeaderboardSize() int {
	if c.Leaderboard.Size <= 0 {
		return 10
	}
	return c.Leaderboard.Size
}
