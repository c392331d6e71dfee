package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/Cheese-remote-engine/internal/obslog"
	"github.com/spf13/viper"
)

type AppConfig struct {
	SystemsFile      string        `mapstructure:"SYSTEMS_FILE"`
	SystemAlias      string        `mapstructure:"SYSTEM_ALIAS"`
	RoundTripTimeout time.Duration `mapstructure:"ROUND_TRIP_TIMEOUT"`

	RedisURL    string `mapstructure:"REDIS_URL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	StatusAddr  string `mapstructure:"STATUS_ADDR"`

	PlayAs         string        `mapstructure:"PLAY_AS"`
	OpponentEngine string        `mapstructure:"OPPONENT_ENGINE"`
	OpponentName   string        `mapstructure:"OPPONENT_NAME"`
	OpponentRating int           `mapstructure:"OPPONENT_RATING"`
	ClockInitial   time.Duration `mapstructure:"CLOCK_INITIAL"`
	ClockIncrement time.Duration `mapstructure:"CLOCK_INCREMENT"`
	MaxPlies       int           `mapstructure:"MAX_PLIES"`

	StubListenAddr string `mapstructure:"STUB_LISTEN_ADDR"`
	StubEngine     string `mapstructure:"STUB_ENGINE"`

	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`
	LogToConsole bool   `mapstructure:"LOG_TO_CONSOLE"`
	LogToFile    bool   `mapstructure:"LOG_TO_FILE"`
	LogFile      string `mapstructure:"LOG_FILE"`
	LogCaller    bool   `mapstructure:"LOG_CALLER"`
}

var defaults = map[string]any{
	"SYSTEMS_FILE":       "",
	"SYSTEM_ALIAS":       "",
	"ROUND_TRIP_TIMEOUT": "0s",
	"REDIS_URL":          "",
	"DATABASE_URL":       "",
	"STATUS_ADDR":        "",
	"PLAY_AS":            "white",
	"OPPONENT_ENGINE":    "random",
	"OPPONENT_NAME":      "baseline",
	"OPPONENT_RATING":    0,
	"CLOCK_INITIAL":      "0s",
	"CLOCK_INCREMENT":    "0s",
	"MAX_PLIES":          400,
	"STUB_LISTEN_ADDR":   "127.0.0.1:9999",
	"STUB_ENGINE":        "random",
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "legacy",
	"LOG_TO_CONSOLE":     true,
	"LOG_TO_FILE":        false,
	"LOG_FILE":           obslog.DefaultFile,
	"LOG_CALLER":         false,
}

// Load reads the environment, overlaid on CONFIG_FILE when it is set.
func Load() (*AppConfig, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	_ = v.BindEnv("CONFIG_FILE")

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.SystemsFile = strings.TrimSpace(c.SystemsFile)
	c.SystemAlias = strings.TrimSpace(c.SystemAlias)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.StatusAddr = strings.TrimSpace(c.StatusAddr)
	c.PlayAs = strings.ToLower(strings.TrimSpace(c.PlayAs))
	c.OpponentEngine = strings.ToLower(strings.TrimSpace(c.OpponentEngine))
	c.StubEngine = strings.ToLower(strings.TrimSpace(c.StubEngine))
}

func (c *AppConfig) Validate() error {
	if c.PlayAs != "white" && c.PlayAs != "black" {
		return fmt.Errorf("PLAY_AS must be white or black, got %q", c.PlayAs)
	}
	if c.RoundTripTimeout < 0 {
		return errors.New("ROUND_TRIP_TIMEOUT must be >= 0")
	}
	if c.ClockInitial < 0 || c.ClockIncrement < 0 {
		return errors.New("CLOCK_INITIAL and CLOCK_INCREMENT must be >= 0")
	}
	if c.MaxPlies <= 0 {
		return errors.New("MAX_PLIES must be > 0")
	}
	if c.OpponentRating < 0 {
		return errors.New("OPPONENT_RATING must be >= 0")
	}
	return nil
}

// Rating returns the opponent rating, or nil when none is configured.
func (c *AppConfig) Rating() *int {
	if c.OpponentRating <= 0 {
		return nil
	}
	r := c.OpponentRating
	return &r
}

func (c *AppConfig) LogOptions() obslog.Options {
	return obslog.Options{
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Console: c.LogToConsole,
		ToFile:  c.LogToFile,
		File:    c.LogFile,
		Caller:  c.LogCaller,
	}
}
