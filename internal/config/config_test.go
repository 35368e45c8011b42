package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 60*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)

	opts, err := cfg.SolverOptions()
	require.NoError(t, err)
	assert.Equal(t, concentration.DefaultOptions(), opts)

	m := cfg.Model()
	assert.InDelta(t, 310.15, m.Temperature, 1e-12)
	assert.Equal(t, 1.0, m.Sodium)

	ac, err := cfg.AnalysisConfig()
	require.NoError(t, err)
	assert.Zero(t, ac.Workers)
	assert.Equal(t, opts, ac.Solver)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SOLVER_METHOD", "newton")
	t.Setenv("SOLVER_TOLERANCE", "1e-7")
	t.Setenv("SOLVER_TIMEOUT", "2s")
	t.Setenv("ANALYSIS_WORKERS", "3")
	t.Setenv("ANALYSIS_TEMPERATURE", "25")
	t.Setenv("ANALYSIS_MAGNESIUM", "0.01")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)

	opts, err := cfg.SolverOptions()
	require.NoError(t, err)
	assert.Equal(t, concentration.MethodNewton, opts.Method)
	assert.Equal(t, 1e-7, opts.Tolerance)
	assert.Equal(t, 2*time.Second, opts.Timeout)

	ac, err := cfg.AnalysisConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, ac.Workers)
	assert.InDelta(t, 298.15, ac.Model.Temperature, 1e-12)
	assert.Equal(t, 0.01, ac.Model.Magnesium)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SOLVER_METHOD", "simplex"},
		{"SOLVER_TOLERANCE", "0"},
		{"SOLVER_MAX_ITERATIONS", "0"},
		{"SOLVER_DELTA_MIN", "2000"},
		{"ANALYSIS_SODIUM", "0"},
		{"ANALYSIS_TEMPERATURE", "-300"},
		{"ANALYSIS_WORKERS", "-1"},
		{"ANALYSIS_MAX_SIZE", "0"},
		{"HTTP_PORT", "70000"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorIs(t, err, errors.ErrConfiguration)
		})
	}

	t.Run("unparsable", func(t *testing.T) {
		t.Setenv("HTTP_PORT", "eighty")
		_, err := Load()
		assert.Error(t, err)
	})
}
