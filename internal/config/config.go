// Package config loads service settings: built-in defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/opt"
)

type HTTP struct {
	Port              string        `yaml:"port"`
	AllowOrigins      []string      `yaml:"allowOrigins"`
	RateRPS           float64       `yaml:"rateRps"`
	RateBurst         int           `yaml:"rateBurst"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	// MaxBodyBytes caps request bodies (problems and matrix uploads).
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

type Database struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type Redis struct {
	URL string `yaml:"url"`
}

type Auth struct {
	Mode         string `yaml:"mode"` // dev, hmac, jwks
	HMACSecret   string `yaml:"hmacSecret"`
	JWKSURL      string `yaml:"jwksUrl"`
	RoleClaim    string `yaml:"roleClaim"`
	SubjectClaim string `yaml:"subjectClaim"`
}

type Webhooks struct {
	Secret       string        `yaml:"secret"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Optimizer holds the defaults of every run; requests may override them.
type Optimizer struct {
	Workers           int           `yaml:"workers"`
	MaxIterations     int           `yaml:"maxIterations"`
	Seed              int64         `yaml:"seed"`
	Construction      string        `yaml:"construction"`
	FastRegret        bool          `yaml:"fastRegret"`
	Acceptance        string        `yaml:"acceptance"`
	StretchFactor     float64       `yaml:"stretchFactor"`
	FixedSlackSec     float64       `yaml:"fixedSlackSec"`
	UnassignedPenalty float64       `yaml:"unassignedPenalty"`
	TimeBudget        time.Duration `yaml:"timeBudget"`
	LogEvery          int           `yaml:"logEvery"`
	// MaxConcurrentRuns bounds the runs optimised at the same time.
	MaxConcurrentRuns int `yaml:"maxConcurrentRuns"`
	// MaxMatrixSize bounds the location count of one problem; the matrix is
	// dense, so memory grows with its square.
	MaxMatrixSize int `yaml:"maxMatrixSize"`
	// MaxWorkers bounds the workers a run may ask for.
	MaxWorkers int `yaml:"maxWorkers"`
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	Auth      Auth      `yaml:"auth"`
	Webhooks  Webhooks  `yaml:"webhooks"`
	Optimizer Optimizer `yaml:"optimizer"`
}

// Default returns the built-in settings.
func Default() Config {
	d := opt.DefaultConfig()
	return Config{
		HTTP: HTTP{
			Port:              "8080",
			AllowOrigins:      []string{"*"},
			RateRPS:           5,
			RateBurst:         10,
			ReadHeaderTimeout: 5 * time.Second,
			MaxBodyBytes:      32 << 20,
		},
		Database: Database{Migrate: true},
		Auth:     Auth{Mode: "dev", RoleClaim: "role", SubjectClaim: "sub"},
		Webhooks: Webhooks{MaxAttempts: 8, PollInterval: time.Second, Timeout: 10 * time.Second},
		Optimizer: Optimizer{
			Workers:           d.Workers,
			MaxIterations:     d.Termination.MaxIterations,
			Seed:              d.Seed,
			Construction:      d.Construction.String(),
			Acceptance:        d.Acceptance.String(),
			StretchFactor:     d.StretchFactor,
			FixedSlackSec:     d.FixedSlack,
			UnassignedPenalty: d.UnassignedPenalty,
			LogEvery:          d.LogEvery,
			MaxConcurrentRuns: 2,
			MaxMatrixSize:     2000,
			MaxWorkers:        32,
		},
	}
}

// Load reads the YAML file at path (or $DRT_CONFIG when path is empty) on
// top of the defaults and applies environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, env func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path == "" {
		path, _ = env("DRT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(env); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := env(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := env(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := env(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.HTTP.Port)
	if v, ok := env("ALLOW_ORIGINS"); ok && v != "" {
		c.HTTP.AllowOrigins = strings.Split(v, ",")
	}
	float("RATE_RPS", &c.HTTP.RateRPS)
	num("RATE_BURST", &c.HTTP.RateBurst)
	str("DATABASE_URL", &c.Database.URL)
	flag("DB_MIGRATE", &c.Database.Migrate)
	str("REDIS_URL", &c.Redis.URL)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("AUTH_JWKS_URL", &c.Auth.JWKSURL)
	str("AUTH_ROLE_CLAIM", &c.Auth.RoleClaim)
	str("AUTH_SUBJECT_CLAIM", &c.Auth.SubjectClaim)
	str("WEBHOOK_SECRET", &c.Webhooks.Secret)
	num("WEBHOOK_MAX_ATTEMPTS", &c.Webhooks.MaxAttempts)
	num("DRT_WORKERS", &c.Optimizer.Workers)
	num("DRT_ITERATIONS", &c.Optimizer.MaxIterations)
	str("DRT_CONSTRUCTION", &c.Optimizer.Construction)
	flag("DRT_FAST_REGRET", &c.Optimizer.FastRegret)
	num("DRT_MAX_RUNS", &c.Optimizer.MaxConcurrentRuns)
	num("DRT_MAX_MATRIX_SIZE", &c.Optimizer.MaxMatrixSize)
	num("DRT_MAX_WORKERS", &c.Optimizer.MaxWorkers)
	if v, ok := env("DRT_SEED"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("DRT_SEED: %w", err))
		} else {
			c.Optimizer.Seed = n
		}
	}
	if v, ok := env("DRT_TIME_BUDGET"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DRT_TIME_BUDGET: %w", err))
		} else {
			c.Optimizer.TimeBudget = d
		}
	}
	return errors.Join(errs...)
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	switch c.Auth.Mode {
	case "dev", "jwks":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("auth mode hmac needs a secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}
	if c.HTTP.RateRPS < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.Optimizer.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Errorf("max concurrent runs %d < 1", c.Optimizer.MaxConcurrentRuns))
	}
	if err := matrix.CheckSize(c.Optimizer.MaxMatrixSize, matrix.MaxSize); err != nil {
		errs = append(errs, fmt.Errorf("max matrix size: %w", err))
	}
	if c.Optimizer.MaxWorkers < 1 || c.Optimizer.Workers > c.Optimizer.MaxWorkers {
		errs = append(errs, fmt.Errorf("workers %d not within max workers %d", c.Optimizer.Workers, c.Optimizer.MaxWorkers))
	}
	if _, err := c.Optimizer.Engine(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Engine returns the engine configuration these defaults describe.
func (o Optimizer) Engine() (opt.Config, error) {
	cfg := opt.DefaultConfig()
	if o.Workers > 0 {
		cfg.Workers = o.Workers
	}
	cfg.Seed = o.Seed
	if o.Construction != "" {
		c, err := opt.ParseConstruction(o.Construction)
		if err != nil {
			return cfg, err
		}
		cfg.Construction = c
	}
	cfg.FastRegret = o.FastRegret
	if o.Acceptance != "" {
		a, err := opt.ParseAcceptance(o.Acceptance)
		if err != nil {
			return cfg, err
		}
		cfg.Acceptance = a
	}
	if o.StretchFactor > 0 {
		cfg.StretchFactor = o.StretchFactor
	}
	if o.FixedSlackSec > 0 {
		cfg.FixedSlack = o.FixedSlackSec
	}
	if o.UnassignedPenalty > 0 {
		cfg.UnassignedPenalty = o.UnassignedPenalty
	}
	cfg.Termination.MaxIterations = o.MaxIterations
	cfg.Termination.TimeBudget = o.TimeBudget
	if o.LogEvery > 0 {
		cfg.LogEvery = o.LogEvery
	}
	return cfg, cfg.Validate()
}
