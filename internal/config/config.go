package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Group-resolution failure policies
const (
	// GroupPolicyDefault demotes an identity whose groups could not be read to the default role
	GroupPolicyDefault = "default"
	// GroupPolicyPreserve keeps the role already stored for that identity
	GroupPolicyPreserve = "preserve"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Directory (Cognito user pool) configuration
	Directory DirectoryConfig `mapstructure:"directory"`

	// Trigger authentication
	Auth AuthConfig `mapstructure:"auth"`

	// Sync pipeline configuration
	Sync SyncConfig `mapstructure:"sync"`

	// Run report archive
	Report ReportConfig `mapstructure:"report"`

	// Logging configuration
	Log LogConfig `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Name         string        `mapstructure:"name"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// DirectoryConfig holds the identity pool settings
type DirectoryConfig struct {
	Region         string        `mapstructure:"region"`
	UserPoolID     string        `mapstructure:"user_pool_id"`
	Endpoint       string        `mapstructure:"endpoint"` // local emulator, optional
	OrgAttribute   string        `mapstructure:"org_attribute"`
	PageSize       int           `mapstructure:"page_size"`
	PageInterval   time.Duration `mapstructure:"page_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds bearer-token settings for the trigger endpoints
type AuthConfig struct {
	JWTSecret    string   `mapstructure:"jwt_secret"`
	Issuer       string   `mapstructure:"issuer"`
	AllowedRoles []string `mapstructure:"allowed_roles"`
}

// SyncConfig holds sync run settings
type SyncConfig struct {
	GroupFailurePolicy  string        `mapstructure:"group_failure_policy"`
	MaxConcurrentRuns   int           `mapstructure:"max_concurrent_runs"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ErrorFlushThreshold int           `mapstructure:"error_flush_threshold"`
}

// ReportConfig holds the S3 archive settings. An empty bucket disables archiving.
type ReportConfig struct {
	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Prefix          string `mapstructure:"s3_prefix"`
	S3Region          string `mapstructure:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3ForcePathStyle  bool   `mapstructure:"s3_force_path_style"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "pretty"
}

// envBinding maps a config key to its environment variable and default value
type envBinding struct {
	key string
	env string
	def interface{}
}

var bindings = []envBinding{
	{"server.port", "PORT", "8080"},
	{"server.read_timeout", "SERVER_READ_TIMEOUT", 30 * time.Second},
	{"server.write_timeout", "SERVER_WRITE_TIMEOUT", 300 * time.Second},
	{"server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT", 30 * time.Second},
	{"server.migrations_path", "MIGRATIONS_PATH", "./migrations"},

	{"database.host", "DB_HOST", "localhost"},
	{"database.port", "DB_PORT", "5432"},
	{"database.user", "DB_USER", "postgres"},
	{"database.password", "DB_PASSWORD", "postgres"},
	{"database.name", "DB_NAME", "iaprender"},
	{"database.sslmode", "DB_SSLMODE", "require"},
	{"database.max_open_conns", "DB_MAX_OPEN_CONNS", 10},
	{"database.max_idle_conns", "DB_MAX_IDLE_CONNS", 5},
	{"database.max_lifetime", "DB_MAX_LIFETIME", 5 * time.Minute},

	{"directory.region", "AWS_REGION", "us-east-1"},
	{"directory.user_pool_id", "COGNITO_USER_POOL_ID", ""},
	{"directory.endpoint", "COGNITO_ENDPOINT", ""},
	{"directory.org_attribute", "COGNITO_ORG_ATTRIBUTE", "custom:empresa_id"},
	{"directory.page_size", "COGNITO_PAGE_SIZE", 60},
	{"directory.page_interval", "COGNITO_PAGE_INTERVAL", 100 * time.Millisecond},
	{"directory.request_timeout", "COGNITO_REQUEST_TIMEOUT", 10 * time.Second},

	{"auth.jwt_secret", "JWT_SECRET", ""},
	{"auth.issuer", "JWT_ISSUER", ""},
	{"auth.allowed_roles", "SYNC_ALLOWED_ROLES", []string{"admin", "manager"}},

	{"sync.group_failure_policy", "SYNC_GROUP_FAILURE_POLICY", GroupPolicyDefault},
	{"sync.max_concurrent_runs", "SYNC_MAX_CONCURRENT_RUNS", 1},
	{"sync.poll_interval", "SYNC_POLL_INTERVAL", 2 * time.Second},
	{"sync.error_flush_threshold", "SYNC_ERROR_FLUSH_THRESHOLD", 1000},

	{"report.s3_bucket", "REPORT_S3_BUCKET", ""},
	{"report.s3_prefix", "REPORT_S3_PREFIX", "user-sync"},
	{"report.s3_region", "REPORT_S3_REGION", ""},
	{"report.s3_endpoint", "REPORT_S3_ENDPOINT", ""},
	{"report.s3_force_path_style", "REPORT_S3_FORCE_PATH_STYLE", false},
	{"report.s3_access_key_id", "REPORT_S3_ACCESS_KEY_ID", ""},
	{"report.s3_secret_access_key", "REPORT_S3_SECRET_ACCESS_KEY", ""},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "json"},
}

// Load reads configuration from environment variables and an optional config.yaml
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. Environment variables still
// take precedence over the file.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Auth.AllowedRoles = splitRoles(cfg.Auth.AllowedRoles)

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Directory.UserPoolID == "" {
		return fmt.Errorf("COGNITO_USER_POOL_ID is required")
	}
	if c.Directory.PageSize < 1 || c.Directory.PageSize > 60 {
		return fmt.Errorf("COGNITO_PAGE_SIZE must be between 1 and 60")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Sync.GroupFailurePolicy {
	case GroupPolicyDefault, GroupPolicyPreserve:
	default:
		return fmt.Errorf("SYNC_GROUP_FAILURE_POLICY must be %q or %q", GroupPolicyDefault, GroupPolicyPreserve)
	}
	if c.Sync.MaxConcurrentRuns < 1 {
		return fmt.Errorf("SYNC_MAX_CONCURRENT_RUNS must be at least 1")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// ReportEnabled reports whether run reports are archived to S3
func (c *Config) ReportEnabled() bool {
	return c.Report.S3Bucket != ""
}

// splitRoles accepts both a list and a single comma-separated env value
func splitRoles(in []string) []string {
	var out []string
	for _, item := range in {
		for _, r := range strings.Split(item, ",") {
			if r = strings.TrimSpace(r); r != "" {
				out = append(out, r)
			}
		}
	}
	return out
}
