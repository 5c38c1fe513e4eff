package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Queue       QueueConfig       `mapstructure:"queue"`
	Mail        MailConfig        `mapstructure:"mail"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	GC          GCConfig          `mapstructure:"gc"`
	API         APIConfig         `mapstructure:"api"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
}

// QueueConfig controls routing and the dispatch loop.
type QueueConfig struct {
	UseQueue              bool          `mapstructure:"use_queue"`
	Timeout               time.Duration `mapstructure:"timeout"`
	EmailDelay            time.Duration `mapstructure:"email_delay"`
	CheckIterationDelay   time.Duration `mapstructure:"check_iteration_delay"`
	MaxAllowedAttempts    int           `mapstructure:"max_allowed_attempts"`
	RetryBackoff          time.Duration `mapstructure:"retry_backoff"`
	ImmediateRetryBackoff time.Duration `mapstructure:"immediate_retry_backoff"`
	AttachmentGrace       time.Duration `mapstructure:"attachment_grace"`
	ClaimRows             bool          `mapstructure:"claim_rows"`
	Schedule              string        `mapstructure:"schedule"`
	Lease                 LeaseConfig   `mapstructure:"lease"`
}

// LeaseConfig configures the optional Redis lease that keeps a single
// runner active across processes. An empty Addr disables it.
type LeaseConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// MailConfig holds sender identity and message assembly settings.
type MailConfig struct {
	DefaultFrom   string   `mapstructure:"default_from"`
	AdminEmails   []string `mapstructure:"admin_emails"`
	TemplateDir   string   `mapstructure:"template_dir"`
	DefaultLocale string   `mapstructure:"default_locale"`
	Locales       []string `mapstructure:"locales"`
	DKIMDomain    string   `mapstructure:"dkim_domain"`
	DKIMSelector  string   `mapstructure:"dkim_selector"`
	DKIMKeyPath   string   `mapstructure:"dkim_key_path"`
}

// TransportConfig selects and configures the delivery transport.
type TransportConfig struct {
	Type         string        `mapstructure:"type"` // smtp, sendmail, resend, stdout, file
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	TLS          string        `mapstructure:"tls"` // none, starttls, implicit
	Helo         string        `mapstructure:"helo"`
	SendmailPath string        `mapstructure:"sendmail_path"`
	ResendAPIKey string        `mapstructure:"resend_api_key"`
	OutputDir    string        `mapstructure:"output_dir"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Fallbacks are tried in order when the primary fails transiently.
	Fallbacks []TransportConfig `mapstructure:"fallbacks"`
}

// AttachmentsConfig selects the attachment content backend.
type AttachmentsConfig struct {
	Type       string `mapstructure:"type"` // local, s3
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// GCConfig controls retention of logs and bodies.
type GCConfig struct {
	CommonLogTTL time.Duration `mapstructure:"common_log_ttl"`
	EmailLogTTL  time.Duration `mapstructure:"email_log_ttl"`
	BodyTTL      time.Duration `mapstructure:"body_ttl"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SMTPConfig configures the SMTP submission listener. An empty Addr
// disables it.
type SMTPConfig struct {
	Addr                 string        `mapstructure:"addr"`
	Domain               string        `mapstructure:"domain"`
	MaxConnections       int           `mapstructure:"max_connections"`
	MaxMessageBytes      int64         `mapstructure:"max_message_bytes"`
	MaxRecipients        int           `mapstructure:"max_recipients"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	AllowInsecureAuth    bool          `mapstructure:"allow_insecure_auth"`
	AllowedSenderDomains []string      `mapstructure:"allowed_sender_domains"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	PoolMin         int32         `mapstructure:"pool_min"`
	PoolMax         int32         `mapstructure:"pool_max"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MigrationsTable string        `mapstructure:"migrations_table"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Output     string `mapstructure:"output"` // stdout, console, file
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxFiles   int    `mapstructure:"max_files"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SentryConfig enables error reporting to Sentry when DSN is set.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.use_queue", true)
	v.SetDefault("queue.timeout", 295*time.Second)
	v.SetDefault("queue.email_delay", 300*time.Millisecond)
	v.SetDefault("queue.check_iteration_delay", 2*time.Second)
	v.SetDefault("queue.max_allowed_attempts", 5)
	v.SetDefault("queue.retry_backoff", 15*time.Minute)
	v.SetDefault("queue.immediate_retry_backoff", 10*time.Second)
	v.SetDefault("queue.attachment_grace", time.Minute)
	v.SetDefault("queue.lease.key", "emailer:runner")

	v.SetDefault("mail.default_from", "")
	v.SetDefault("mail.admin_emails", []string{})
	v.SetDefault("mail.default_locale", "en")
	v.SetDefault("mail.template_dir", "templates")

	v.SetDefault("transport.type", "smtp")
	v.SetDefault("transport.host", "localhost")
	v.SetDefault("transport.port", 25)
	v.SetDefault("transport.username", "")
	v.SetDefault("transport.password", "")
	v.SetDefault("transport.resend_api_key", "")
	v.SetDefault("transport.output_dir", "var/outbox")
	v.SetDefault("transport.tls", "starttls")
	v.SetDefault("transport.sendmail_path", "/usr/sbin/sendmail")
	v.SetDefault("transport.timeout", 30*time.Second)

	v.SetDefault("attachments.type", "local")
	v.SetDefault("attachments.path", "var/attachments")

	v.SetDefault("gc.common_log_ttl", 14*24*time.Hour)
	v.SetDefault("gc.email_log_ttl", 90*24*time.Hour)
	v.SetDefault("gc.body_ttl", 90*24*time.Hour)
	v.SetDefault("gc.batch_size", 1000)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)

	v.SetDefault("smtp.addr", "")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.max_message_bytes", 25<<20)
	v.SetDefault("smtp.max_recipients", 100)
	v.SetDefault("smtp.read_timeout", 60*time.Second)
	v.SetDefault("smtp.write_timeout", 60*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/emailer.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory; a missing file
// leaves the defaults in place. A ".env" file in the working directory is
// loaded first when present. Environment variables with prefix EMAILER_
// override file values, e.g. EMAILER_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("EMAILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the dispatch loop misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.Timeout <= 0 {
		errs = append(errs, errors.New("queue.timeout must be positive"))
	}
	if c.Queue.EmailDelay < 0 || c.Queue.CheckIterationDelay < 0 {
		errs = append(errs, errors.New("queue delays must not be negative"))
	}
	if c.Queue.MaxAllowedAttempts < 1 {
		errs = append(errs, errors.New("queue.max_allowed_attempts must be at least 1"))
	}
	if c.GC.BatchSize < 1 {
		errs = append(errs, errors.New("gc.batch_size must be at least 1"))
	}
	switch c.Transport.Type {
	case "smtp", "sendmail", "resend", "stdout", "file":
	default:
		errs = append(errs, fmt.Errorf("transport.type %q is not supported", c.Transport.Type))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
