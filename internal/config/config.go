package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the bot process.
// All values must come from env (or an env-file loaded at startup).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Bot     BotConfig
	Sink    SinkConfig
	Speech  SpeechConfig
	Audio   AudioConfig
	Publish PublishConfig
	Graph   GraphConfig
	DB      DBConfig
	Redis   RedisConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type BotConfig struct {
	// DisplayName is shown in the meeting roster and matched against
	// participant notifications to detect auto-invites.
	DisplayName string

	// APIToken, when set, protects the join endpoint with a static bearer
	// token. Empty means the join endpoint is open.
	APIToken string

	// DefaultTenantID is the effective tenant when a join request names none.
	DefaultTenantID string

	// DirectJoinTenants restricts the direct Graph join path to the listed
	// tenant ids. Empty means every tenant is enabled.
	DirectJoinTenants []string
}

type SinkConfig struct {
	// Endpoint receives transcript events.
	Endpoint string
	Timeout  time.Duration
}

type SpeechConfig struct {
	URL      string
	APIKey   string
	Model    string
	Language string
}

type AudioConfig struct {
	SampleRate int
	Channels   int
	// QueueDepth bounds the per-call frame queue; oldest frames are dropped
	// beyond it.
	QueueDepth int
}

type PublishConfig struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	DrainTimeout time.Duration
}

type GraphConfig struct {
	BaseURL     string
	AccessToken string
}

type DBConfig struct {
	// Host empty disables the call history database.
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	// Host empty disables the transcript dead letter.
	Host string
	Port int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Bot.DisplayName = strings.TrimSpace(os.Getenv("BOT_DISPLAY_NAME"))
	c.Bot.APIToken = os.Getenv("API_TOKEN")
	c.Bot.DefaultTenantID = strings.TrimSpace(os.Getenv("DEFAULT_TENANT_ID"))
	c.Bot.DirectJoinTenants = splitList(os.Getenv("DIRECT_JOIN_TENANTS"))

	c.Sink.Endpoint = strings.TrimSpace(os.Getenv("SINK_ENDPOINT"))
	c.Sink.Timeout = optDuration("SINK_TIMEOUT")

	c.Speech.URL = strings.TrimSpace(os.Getenv("SPEECH_URL"))
	c.Speech.APIKey = os.Getenv("SPEECH_API_KEY")
	c.Speech.Model = strings.TrimSpace(os.Getenv("SPEECH_MODEL"))
	c.Speech.Language = strings.TrimSpace(os.Getenv("SPEECH_LANGUAGE"))

	c.Audio.SampleRate = optInt("AUDIO_SAMPLE_RATE")
	c.Audio.Channels = optInt("AUDIO_CHANNELS")
	c.Audio.QueueDepth = optInt("AUDIO_QUEUE_DEPTH")

	c.Publish.MaxAttempts = optInt("PUBLISH_MAX_ATTEMPTS")
	c.Publish.BaseBackoff = optDuration("PUBLISH_BASE_BACKOFF")
	c.Publish.MaxBackoff = optDuration("PUBLISH_MAX_BACKOFF")
	c.Publish.DrainTimeout = optDuration("PUBLISH_DRAIN_TIMEOUT")

	c.Graph.BaseURL = strings.TrimSpace(os.Getenv("GRAPH_BASE_URL"))
	c.Graph.AccessToken = os.Getenv("GRAPH_ACCESS_TOKEN")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = optInt("DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optInt("REDIS_PORT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Bot.DisplayName == "" {
		c.Bot.DisplayName = "Meeting Bot"
	}

	if c.Sink.Endpoint == "" {
		errs = append(errs, errors.New("SINK_ENDPOINT is required"))
	}
	if c.Sink.Timeout <= 0 {
		c.Sink.Timeout = 10 * time.Second
	}

	if c.Speech.URL == "" {
		errs = append(errs, errors.New("SPEECH_URL is required"))
	}

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels <= 0 {
		// Media layer delivers mono PCM.
		c.Audio.Channels = 1
	}
	if c.Audio.QueueDepth <= 0 {
		c.Audio.QueueDepth = 50
	}

	if c.Publish.MaxAttempts <= 0 {
		c.Publish.MaxAttempts = 5
	}
	if c.Publish.BaseBackoff <= 0 {
		c.Publish.BaseBackoff = 250 * time.Millisecond
	}
	if c.Publish.MaxBackoff <= 0 {
		c.Publish.MaxBackoff = 5 * time.Second
	}
	if c.Publish.DrainTimeout <= 0 {
		c.Publish.DrainTimeout = 10 * time.Second
	}

	if c.Graph.BaseURL == "" {
		errs = append(errs, errors.New("GRAPH_BASE_URL is required"))
	}

	if c.DBEnabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.RedisEnabled() {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) DBEnabled() bool {
	return c.DB.Host != ""
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
