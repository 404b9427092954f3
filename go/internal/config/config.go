package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Coordinator holds the settings of the coordinator process
type Coordinator struct {
	Port           string        `env:"PORT" envDefault:"5000"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LeadTime       time.Duration `env:"SYNCPLAY_LEAD_TIME" envDefault:"3s"`
	TickInterval   time.Duration `env:"SYNCPLAY_TICK_INTERVAL" envDefault:"100ms"`
	ResetPolicy    string        `env:"SYNCPLAY_RESET_POLICY" envDefault:"auto"`
	SongBaseURL    string        `env:"SYNCPLAY_SONG_BASE_URL" envDefault:"http://localhost:5000/songs/"`
	ReferencesFile string        `env:"SYNCPLAY_REFERENCES_FILE" envDefault:"references.yaml"`

	AttemptTimeout time.Duration `env:"SYNCPLAY_ATTEMPT_TIMEOUT" envDefault:"1s"`
	MaxPasses      int           `env:"SYNCPLAY_MAX_PASSES" envDefault:"3"`
	BaseDelay      time.Duration `env:"SYNCPLAY_BASE_DELAY" envDefault:"200ms"`

	NatsURL   string `env:"NATS_URL"`
	RedisAddr string `env:"REDIS_ADDR"`

	Postgres Postgres
}

// Listener holds the settings of a headless client
type Listener struct {
	ServerURL           string        `env:"SYNCPLAY_SERVER_URL" envDefault:"ws://localhost:5000/ws"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	Probes              int           `env:"SYNCPLAY_PROBES" envDefault:"3"`
	ProbeInterval       time.Duration `env:"SYNCPLAY_PROBE_INTERVAL" envDefault:"1s"`
	RunTimeout          time.Duration `env:"SYNCPLAY_RUN_TIMEOUT" envDefault:"10s"`
	Cooldown            time.Duration `env:"SYNCPLAY_COOLDOWN" envDefault:"500ms"`
	JitterMargin        time.Duration `env:"SYNCPLAY_JITTER_MARGIN" envDefault:"20ms"`
	RecalibrateInterval time.Duration `env:"SYNCPLAY_RECALIBRATE_INTERVAL" envDefault:"30s"`
	ReconnectBaseDelay  time.Duration `env:"SYNCPLAY_RECONNECT_BASE_DELAY" envDefault:"1s"`
	ReconnectMaxDelay   time.Duration `env:"SYNCPLAY_RECONNECT_MAX_DELAY" envDefault:"30s"`
}

// LoadDotEnv loads .env files if present. A missing file is not an error.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
}

// LoadCoordinator parses coordinator settings from the environment
func LoadCoordinator() (*Coordinator, error) {
	cfg, err := env.ParseAs[Coordinator]()
	if err != nil {
		return nil, fmt.Errorf("parse coordinator config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that env parsing cannot
func (c *Coordinator) Validate() error {
	var errs []error
	if c.LeadTime <= 0 {
		errs = append(errs, fmt.Errorf("SYNCPLAY_LEAD_TIME must be positive, got %s", c.LeadTime))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("SYNCPLAY_TICK_INTERVAL must be positive, got %s", c.TickInterval))
	}
	if c.ResetPolicy != "auto" && c.ResetPolicy != "hold" {
		errs = append(errs, fmt.Errorf("SYNCPLAY_RESET_POLICY must be auto or hold, got %q", c.ResetPolicy))
	}
	if c.MaxPasses < 1 {
		errs = append(errs, fmt.Errorf("SYNCPLAY_MAX_PASSES must be at least 1, got %d", c.MaxPasses))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

// LoadListener parses listener settings from the environment
func LoadListener() (*Listener, error) {
	cfg, err := env.ParseAs[Listener]()
	if err != nil {
		return nil, fmt.Errorf("parse listener config: %w", err)
	}
	if cfg.Probes < 1 {
		return nil, fmt.Errorf("SYNCPLAY_PROBES must be at least 1, got %d", cfg.Probes)
	}
	if cfg.RunTimeout <= 0 {
		return nil, fmt.Errorf("SYNCPLAY_RUN_TIMEOUT must be positive, got %s", cfg.RunTimeout)
	}
	return &cfg, nil
}
