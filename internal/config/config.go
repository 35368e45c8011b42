package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/equilibria/internal/analysis"
	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Solver struct {
		Method        string        `env:"SOLVER_METHOD" envDefault:"trust_region"`
		Tolerance     float64       `env:"SOLVER_TOLERANCE" envDefault:"1e-9"`
		MaxIterations int           `env:"SOLVER_MAX_ITERATIONS" envDefault:"10000"`
		Timeout       time.Duration `env:"SOLVER_TIMEOUT" envDefault:"0s"`
		DeltaMin      float64       `env:"SOLVER_DELTA_MIN" envDefault:"1e-12"`
		DeltaMax      float64       `env:"SOLVER_DELTA_MAX" envDefault:"1000"`
	}
	Analysis struct {
		// Workers of 0 means GOMAXPROCS.
		Workers   int     `env:"ANALYSIS_WORKERS" envDefault:"0"`
		CacheSize int     `env:"ANALYSIS_CACHE_SIZE" envDefault:"4096"`
		MaxSize   int     `env:"ANALYSIS_MAX_SIZE" envDefault:"4"`
		Celsius   float64 `env:"ANALYSIS_TEMPERATURE" envDefault:"37"`
		Sodium    float64 `env:"ANALYSIS_SODIUM" envDefault:"1"`
		Magnesium float64 `env:"ANALYSIS_MAGNESIUM" envDefault:"0"`
		// JobTTL is how long finished jobs stay queryable.
		JobTTL time.Duration `env:"ANALYSIS_JOB_TTL" envDefault:"1h"`
	}
	Metrics struct {
		Namespace string `env:"METRICS_NAMESPACE" envDefault:"equilibria"`
		Runtime   bool   `env:"METRICS_RUNTIME" envDefault:"true"`
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing environment").WithComponent("config").WithOperation("Load")
	}

	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the solver and analysis sections.
func (c *Config) Validate() error {
	const op = "Config.Validate"

	if _, err := c.SolverOptions(); err != nil {
		return configError(err, op)
	}
	if err := c.Model().Validate(); err != nil {
		return configError(err, op)
	}
	switch {
	case c.HTTP.Port < 0 || c.HTTP.Port > 65535:
		return errors.Errorf(errors.KindConfiguration, "invalid HTTP port %d", c.HTTP.Port).
			WithComponent("config").WithOperation(op)
	case c.Analysis.Workers < 0:
		return errors.Errorf(errors.KindConfiguration, "analysis workers must not be negative, got %d", c.Analysis.Workers).
			WithComponent("config").WithOperation(op)
	case c.Analysis.MaxSize < 1:
		return errors.Errorf(errors.KindConfiguration, "analysis max size must be at least 1, got %d", c.Analysis.MaxSize).
			WithComponent("config").WithOperation(op)
	}
	return nil
}

// SolverOptions converts the solver section into concentration options.
func (c *Config) SolverOptions() (concentration.Options, error) {
	method, err := concentration.ParseMethod(c.Solver.Method)
	if err != nil {
		return concentration.Options{}, err
	}
	opts := concentration.Options{
		Method:        method,
		Tolerance:     c.Solver.Tolerance,
		MaxIterations: c.Solver.MaxIterations,
		Timeout:       c.Solver.Timeout,
		DeltaMin:      c.Solver.DeltaMin,
		DeltaMax:      c.Solver.DeltaMax,
	}
	return opts, opts.Validate()
}

// Model returns the default physical conditions for analyses.
func (c *Config) Model() thermo.Model {
	return thermo.Model{
		Temperature: thermo.Kelvin(c.Analysis.Celsius),
		Sodium:      c.Analysis.Sodium,
		Magnesium:   c.Analysis.Magnesium,
	}
}

// AnalysisConfig returns the analyzer settings.
func (c *Config) AnalysisConfig() (analysis.Config, error) {
	opts, err := c.SolverOptions()
	if err != nil {
		return analysis.Config{}, configError(err, "Config.AnalysisConfig")
	}
	return analysis.Config{
		Workers: c.Analysis.Workers,
		Model:   c.Model(),
		Solver:  opts,
	}, nil
}

func configError(err error, op string) error {
	e := errors.Wrap(err, "invalid configuration").WithComponent("config").WithOperation(op)
	e.Kind = errors.KindConfiguration
	return e
}
