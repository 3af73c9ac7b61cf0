package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/leeforge/community-processor/community/shared"
)

// Config holds processor configuration.
type Config struct {
	LogLevel       string
	DisableLogging bool
	HTTPPort       int

	Kafka      Kafka
	GroupAPI   GroupAPI
	Auth       Auth
	JournalDSN string

	// OperatorJWTSecret signs the bearer tokens of the replay routes. The
	// routes are not mounted when it is empty.
	OperatorJWTSecret string
}

// Kafka holds stream consumer settings.
type Kafka struct {
	URL           string
	GroupID       string
	ClientCert    string
	ClientCertKey string
	Topics        []string
}

// GroupAPI holds group directory settings.
type GroupAPI struct {
	BaseURL        string
	RateLimit      float64
	Burst          int
	RequestTimeout time.Duration
}

// Auth holds machine-to-machine token settings.
type Auth struct {
	URL            string
	Audience       string
	ClientID       string
	ClientSecret   string
	ProxyServerURL string
	EarlyExpiry    time.Duration
}

// DefaultTopics are consumed when KAFKA_TOPICS is not set.
var DefaultTopics = append(append([]string{}, shared.TraitTopics...), shared.TopicIdentityCreate)

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DISABLE_LOGGING", false)
	v.SetDefault("HTTP_PORT", 3000)

	v.SetDefault("KAFKA_URL", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "member-group-processor")
	v.SetDefault("KAFKA_CLIENT_CERT", "")
	v.SetDefault("KAFKA_CLIENT_CERT_KEY", "")
	v.SetDefault("KAFKA_TOPICS", strings.Join(DefaultTopics, ","))

	v.SetDefault("GROUP_API_BASE_URL", "https://api.topcoder.com")
	v.SetDefault("GROUP_API_RATE_LIMIT", 0)
	v.SetDefault("GROUP_API_BURST", 1)
	v.SetDefault("REQUEST_TIMEOUT", 10*time.Second)

	v.SetDefault("AUTH0_URL", "")
	v.SetDefault("AUTH0_AUDIENCE", "https://www.topcoder.com")
	v.SetDefault("AUTH0_CLIENT_ID", "")
	v.SetDefault("AUTH0_CLIENT_SECRET", "")
	v.SetDefault("AUTH0_PROXY_SERVER_URL", "")
	v.SetDefault("TOKEN_EARLY_EXPIRY", time.Minute)

	v.SetDefault("JOURNAL_DSN", "")
	v.SetDefault("OPERATOR_JWT_SECRET", "")
}

// Load reads configuration from the environment and, when path is not
// empty, from a config file. Environment values win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		LogLevel:       v.GetString("LOG_LEVEL"),
		DisableLogging: v.GetBool("DISABLE_LOGGING"),
		HTTPPort:       v.GetInt("HTTP_PORT"),
		Kafka: Kafka{
			URL:           v.GetString("KAFKA_URL"),
			GroupID:       v.GetString("KAFKA_GROUP_ID"),
			ClientCert:    v.GetString("KAFKA_CLIENT_CERT"),
			ClientCertKey: v.GetString("KAFKA_CLIENT_CERT_KEY"),
			Topics:        splitList(v.GetString("KAFKA_TOPICS")),
		},
		GroupAPI: GroupAPI{
			BaseURL:        v.GetString("GROUP_API_BASE_URL"),
			RateLimit:      v.GetFloat64("GROUP_API_RATE_LIMIT"),
			Burst:          v.GetInt("GROUP_API_BURST"),
			RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		},
		Auth: Auth{
			URL:            v.GetString("AUTH0_URL"),
			Audience:       v.GetString("AUTH0_AUDIENCE"),
			ClientID:       v.GetString("AUTH0_CLIENT_ID"),
			ClientSecret:   v.GetString("AUTH0_CLIENT_SECRET"),
			ProxyServerURL: v.GetString("AUTH0_PROXY_SERVER_URL"),
			EarlyExpiry:    v.GetDuration("TOKEN_EARLY_EXPIRY"),
		},
		JournalDSN:        v.GetString("JOURNAL_DSN"),
		OperatorJWTSecret: v.GetString("OPERATOR_JWT_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the processor cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Brokers()) == 0 {
		errs = append(errs, errors.New("KAFKA_URL must name at least one broker"))
	}
	if c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("KAFKA_GROUP_ID is required"))
	}
	if len(c.Kafka.Topics) == 0 {
		errs = append(errs, errors.New("KAFKA_TOPICS must name at least one topic"))
	}
	if (c.Kafka.ClientCert == "") != (c.Kafka.ClientCertKey == "") {
		errs = append(errs, errors.New("KAFKA_CLIENT_CERT and KAFKA_CLIENT_CERT_KEY must be set together"))
	}
	if c.GroupAPI.BaseURL == "" {
		errs = append(errs, errors.New("GROUP_API_BASE_URL is required"))
	}
	if c.GroupAPI.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.GroupAPI.RateLimit < 0 {
		errs = append(errs, errors.New("GROUP_API_RATE_LIMIT must not be negative"))
	}
	if c.GroupAPI.RateLimit > 0 && c.GroupAPI.Burst < 1 {
		errs = append(errs, errors.New("GROUP_API_BURST must be at least 1 when GROUP_API_RATE_LIMIT is set"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d is out of range", c.HTTPPort))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Brokers returns the broker addresses of KAFKA_URL without URL schemes.
func (c *Config) Brokers() []string {
	brokers := splitList(c.Kafka.URL)
	for i, b := range brokers {
		if idx := strings.Index(b, "://"); idx >= 0 {
			brokers[i] = b[idx+3:]
		}
	}
	return brokers
}

// HasKafkaTLS returns true if a client certificate is configured.
func (c *Config) HasKafkaTLS() bool {
	return c.Kafka.ClientCert != "" && c.Kafka.ClientCertKey != ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
