package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Runtime holds process-level knobs that do not belong to any table. They
// come from the environment so the same config file can run unchanged in
// different deployments.
type Runtime struct {
	LogLevel string `env:"SPREADTAP_LOG_LEVEL" env-default:"info"`

	MetricsBackend string `env:"SPREADTAP_METRICS_BACKEND" env-default:"none"`
	MetricsJob     string `env:"SPREADTAP_METRICS_JOB" env-default:"spreadtap"`
	MetricsTags    string `env:"SPREADTAP_METRICS_TAGS" env-default:""`

	// StateStore selects where checkpoints are persisted in addition to the
	// STATE messages on stdout: "" (none), file, sqlite, postgres, mssql.
	StateStore string `env:"SPREADTAP_STATE_STORE" env-default:""`
	StateDSN   string `env:"SPREADTAP_STATE_DSN" env-default:""`

	HTTPRequestsPerSecond float64       `env:"SPREADTAP_HTTP_RPS" env-default:"5"`
	RetryAttempts         int           `env:"SPREADTAP_RETRY_ATTEMPTS" env-default:"3"`
	RetryInitialDelay     time.Duration `env:"SPREADTAP_RETRY_DELAY" env-default:"200ms"`
}

// LoadRuntime reads Runtime from the environment.
func LoadRuntime() (Runtime, error) {
	var rt Runtime
	if err := cleanenv.ReadEnv(&rt); err != nil {
		return Runtime{}, fmt.Errorf("config: read environment: %w", err)
	}
	return rt, nil
}
