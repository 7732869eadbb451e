package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort             string   `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL          string   `env:"DATABASE_URL"`
	OracleBaseURL        string   `env:"ORACLE_BASE_URL,required"`
	OracleAPIKey         string   `env:"ORACLE_API_KEY"`
	OracleTimeoutSeconds int      `env:"ORACLE_TIMEOUT_SECONDS" envDefault:"3"`
	OraclePollSeconds    int      `env:"ORACLE_POLL_SECONDS" envDefault:"15"`
	RedisAddr            string   `env:"REDIS_ADDR"`
	RedisPassword        string   `env:"REDIS_PASSWORD"`
	RedisDB              int      `env:"REDIS_DB" envDefault:"0"`
	GrantTTLMinutes      int      `env:"GRANT_TTL_MINUTES" envDefault:"45"`
	SnapshotMaxAgeHours  int      `env:"SNAPSHOT_MAX_AGE_HOURS" envDefault:"168"`
	GraceWindowSeconds   int      `env:"GRACE_WINDOW_SECONDS" envDefault:"8"`
	RetryAttempts        int      `env:"RETRY_ATTEMPTS" envDefault:"4"`
	RetryBaseMillis      int      `env:"RETRY_BASE_MILLIS" envDefault:"200"`
	RetryCapMillis       int      `env:"RETRY_CAP_MILLIS" envDefault:"2000"`
	SweepAttempts        int      `env:"SWEEP_ATTEMPTS" envDefault:"3"`
	SweepDelaySeconds    int      `env:"SWEEP_DELAY_SECONDS" envDefault:"2"`
	FailureAlertStreak   int      `env:"FAILURE_ALERT_STREAK" envDefault:"5"`
	AdminAllowList       []string `env:"ADMIN_ALLOW_LIST" envSeparator:","`
	RecoveryKeyHash      string   `env:"RECOVERY_KEY_HASH"`
	AlertSMTPHost        string   `env:"ALERT_SMTP_HOST"`
	AlertSMTPPort        int      `env:"ALERT_SMTP_PORT" envDefault:"587"`
	AlertSMTPUser        string   `env:"ALERT_SMTP_USER"`
	AlertSMTPPass        string   `env:"ALERT_SMTP_PASS"`
	AlertSMTPFrom        string   `env:"ALERT_SMTP_FROM"`
	AlertSMTPTo          string   `env:"ALERT_SMTP_TO"`
	AlertSMTPUseTLS      bool     `env:"ALERT_SMTP_USE_TLS" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
