package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Cipher    CipherConfig    `mapstructure:"cipher"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Clinic    ClinicConfig    `mapstructure:"clinic"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Email     EmailConfig     `mapstructure:"email"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	TimeoutSeconds  int           `mapstructure:"timeout_seconds"`
	Mode            string        `mapstructure:"mode"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN renders the lib/pq key/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type CipherConfig struct {
	// Key is base64 of 32 bytes or a raw 32 character string.
	Key string `mapstructure:"key"`
}

// RedisConfig configures the outbox broker. An empty Addr makes the worker
// publish in process only.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

type WorkerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

type OutboxConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Retention  time.Duration `mapstructure:"retention"`
}

type ClinicConfig struct {
	SingleActiveConsultation bool   `mapstructure:"single_active_consultation"`
	Timezone                 string `mapstructure:"timezone"`
}

// Location resolves the clinic timezone, falling back to UTC.
func (c ClinicConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type ReconcileConfig struct {
	OnStartup bool          `mapstructure:"on_startup"`
	Interval  time.Duration `mapstructure:"interval"`
}

type AuditConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	CleanupEvery  time.Duration `mapstructure:"cleanup_every"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type EmailConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SMTPHost      string `mapstructure:"smtp_host"`
	SMTPPort      int    `mapstructure:"smtp_port"`
	SMTPUsername  string `mapstructure:"smtp_username"`
	SMTPPassword  string `mapstructure:"smtp_password"`
	FromAddress   string `mapstructure:"from_address"`
	AdmissionDesk string `mapstructure:"admission_desk"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Secrets never live in config.yaml.
type Secrets struct {
	CipherKey     string `envconfig:"CIPHER_KEY"`
	DBPassword    string `envconfig:"DB_PASSWORD"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "opd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("jwt.issuer", "opd-api")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.stream", "opd-events")
	v.SetDefault("redis.max_len", 100000)

	v.SetDefault("worker.health_port", 8081)

	v.SetDefault("outbox.interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.retry_delay", 30*time.Second)
	v.SetDefault("outbox.retention", 7*24*time.Hour)

	v.SetDefault("clinic.single_active_consultation", true)
	v.SetDefault("clinic.timezone", "UTC")

	v.SetDefault("reconcile.on_startup", true)
	v.SetDefault("reconcile.interval", time.Hour)

	v.SetDefault("audit.retention_days", 2190)
	v.SetDefault("audit.cleanup_every", 24*time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.ttl", 10*time.Minute)

	v.SetDefault("email.smtp_port", 587)

	v.SetDefault("log.level", "info")
}

func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")

	setDefaults(v)
	v.SetEnvPrefix("OPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process("OPD", &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	cfg.applySecrets(secrets)

	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.CipherKey != "" {
		c.Cipher.Key = s.CipherKey
	}
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.RedisPassword != "" {
		c.Redis.Password = s.RedisPassword
	}
	if s.SMTPPassword != "" {
		c.Email.SMTPPassword = s.SMTPPassword
	}
}
