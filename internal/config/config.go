package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	insecureJWTSecret = "supersecretkey"

	PrivacyModeAuto   = "auto"
	PrivacyModeStrict = "strict"
	PrivacyModeOpen   = "open"

	// DefaultCommentTemplate names the local technician and says whether the
	// remote assignment went through.
	DefaultCommentTemplate = "{{if .Assigned}}Assigned to {{.Technician}}{{else}}Assigned locally to {{.Technician}}; remote assignment failed{{end}}"
)

type Config struct {
	Addr           string        `yaml:"addr"`
	JWTSecret      string        `yaml:"jwt_secret"`
	APITimeout     time.Duration `yaml:"timeout"`
	DatabasePath   string        `yaml:"database_path"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
	TokenDuration  time.Duration `yaml:"token_duration"`
	LogLevel       string        `yaml:"log_level"`
	Remote         RemoteConfig  `yaml:"remote"`
	Mapping        MappingConfig `yaml:"mapping"`
	Sync           SyncConfig    `yaml:"sync"`
}

// RemoteConfig configures the remote ticketing API client. Credentials and the
// privacy mode are handed to the client constructor, never read from the environment there.
type RemoteConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIToken    string `yaml:"api_token"`
	PrivacyMode string `yaml:"privacy_mode"`
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `yaml:"timeout"`
	// MaxAttempts is the total number of attempts per call, first try included.
	MaxAttempts       int           `yaml:"max_attempts"`
	Backoff           time.Duration `yaml:"backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type MappingConfig struct {
	Path string `yaml:"path"`
}

type SyncConfig struct {
	Workers         int           `yaml:"workers"`
	JobWorkers      int           `yaml:"job_workers"`
	Interval        time.Duration `yaml:"interval"`
	CommentTemplate string        `yaml:"comment_template"`
}

func LoadConfig(path string) (*Config, error) {
	apiTimeout := 15 * time.Second
	tokenDuration := 1 * time.Hour

	cfg := &Config{
		Addr:           getEnv("TECHSYNC_ADDR", ":8080"),
		JWTSecret:      getEnv("TECHSYNC_JWT_SECRET", insecureJWTSecret),
		APITimeout:     apiTimeout,
		DatabasePath:   getEnv("TECHSYNC_DATABASE_PATH", "techsync.db"),
		MigrateOnStart: getEnv("TECHSYNC_MIGRATE_ON_START", "true") != "false",
		TokenDuration:  tokenDuration,
		LogLevel:       getEnv("TECHSYNC_LOG_LEVEL", "info"),
		Remote: RemoteConfig{
			BaseURL:     os.Getenv("TECHSYNC_REMOTE_BASE_URL"),
			APIToken:    os.Getenv("TECHSYNC_REMOTE_API_TOKEN"),
			PrivacyMode: getEnv("TECHSYNC_PRIVACY_MODE", PrivacyModeAuto),
		},
		Mapping: MappingConfig{
			Path: getEnv("TECHSYNC_MAPPING_PATH", "data/tech_mapping.csv"),
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Validate fills defaults for unset values and rejects unusable settings.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.JWTSecret == insecureJWTSecret && getEnv("TECHSYNC_ENV", "production") != "development" {
		return errors.New("jwt_secret uses the insecure default; set TECHSYNC_JWT_SECRET or TECHSYNC_ENV=development")
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}
	if c.TokenDuration <= 0 {
		c.TokenDuration = time.Hour
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	if c.Mapping.Path == "" {
		return errors.New("mapping.path is required")
	}
	if err := c.Remote.validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.JobWorkers <= 0 {
		c.Sync.JobWorkers = 1
	}
	if c.Sync.Interval < 0 {
		return errors.New("sync.interval must not be negative")
	}
	if strings.TrimSpace(c.Sync.CommentTemplate) == "" {
		c.Sync.CommentTemplate = DefaultCommentTemplate
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.BaseURL == "" {
		return errors.New("base_url is required")
	}
	r.PrivacyMode = strings.ToLower(strings.TrimSpace(r.PrivacyMode))
	switch r.PrivacyMode {
	case "":
		r.PrivacyMode = PrivacyModeAuto
	case PrivacyModeAuto, PrivacyModeStrict, PrivacyModeOpen:
	default:
		return fmt.Errorf("privacy_mode %q must be one of auto, strict, open", r.PrivacyMode)
	}
	r.ApplyDefaults()
	return nil
}

// ApplyDefaults fills zero values with the client defaults.
func (r *RemoteConfig) ApplyDefaults() {
	if r.PrivacyMode == "" {
		r.PrivacyMode = PrivacyModeAuto
	}
	if r.Timeout <= 0 {
		r.Timeout = 10 * time.Second
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.Backoff <= 0 {
		r.Backoff = 500 * time.Millisecond
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = 5 * time.Second
	}
	if r.MaxBackoff < r.Backoff {
		r.MaxBackoff = r.Backoff
	}
	if r.RequestsPerSecond < 0 {
		r.RequestsPerSecond = 0
	}
	if r.Burst <= 0 {
		r.Burst = 5
	}
}

// CallBudget is the longest one remote call can take: every attempt timing
// out, with the largest backoff between attempts.
func (r RemoteConfig) CallBudget() time.Duration {
	if r.MaxAttempts <= 0 {
		return r.Timeout
	}
	return time.Duration(r.MaxAttempts)*r.Timeout + time.Duration(r.MaxAttempts-1)*r.MaxBackoff
}

// SyncTimeout bounds one ticket sync, which makes an assign call and a
// comment call.
func (c *Config) SyncTimeout() time.Duration {
	return 2 * c.Remote.CallBudget()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}
