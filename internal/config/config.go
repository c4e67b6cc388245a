package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	NATS struct {
		URL     string `mapstructure:"url"`
		Stream  string `mapstructure:"stream"`  // JetStream stream for outbound domain events
		Subject string `mapstructure:"subject"` // base subject, e.g. v1.telephony
	} `mapstructure:"nats"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Cooldown   CooldownConfig   `mapstructure:"cooldown"`
	Skip       SkipConfig       `mapstructure:"skip"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Carrier    CarrierConfig    `mapstructure:"carrier"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Jobs       JobsPoolConfig   `mapstructure:"jobs"`
	AppURL     string           `mapstructure:"appURL"` // console base URL used in relay notification links
}

// RelayConfig bounds the masked-relay allocator.
type RelayConfig struct {
	MaxConnections int `mapstructure:"maxConnections" validate:"gt=0"` // max concurrent leases per agent
}

// CooldownConfig drives the spam circuit breaker on stats batches.
type CooldownConfig struct {
	SpamErrorCode  string        `mapstructure:"spamErrorCode"`
	MinResults     int           `mapstructure:"minResults" validate:"gt=0"`
	MinSpamResults int           `mapstructure:"minSpamResults" validate:"gt=0"`
	Duration       time.Duration `mapstructure:"duration" validate:"gt=0"`
}

// SkipConfig holds defaults for the eligibility engine; threshold days can be
// overridden per company.
type SkipConfig struct {
	DefaultThresholdDays int `mapstructure:"defaultThresholdDays" validate:"gt=0"`
}

// ClassifierConfig configures inbound content classification.
type ClassifierConfig struct {
	ScoringURL     string        `mapstructure:"scoringURL"`
	ScoreThreshold float64       `mapstructure:"scoreThreshold" validate:"gt=0,lte=1"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Enabled        bool          `mapstructure:"enabled"`
}

// CarrierConfig configures the carrier-metadata lookup collaborator.
type CarrierConfig struct {
	LookupURL string        `mapstructure:"lookupURL"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// ProvidersConfig holds credentials for the telephony providers.
type ProvidersConfig struct {
	Telnyx struct {
		APIKey  string `mapstructure:"apiKey"`
		BaseURL string `mapstructure:"baseURL"`
	} `mapstructure:"telnyx"`
	Twilio struct {
		AccountSID string `mapstructure:"accountSID"`
		AuthToken  string `mapstructure:"authToken"`
		BaseURL    string `mapstructure:"baseURL"`
	} `mapstructure:"twilio"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"` // bound on synchronous provider calls from webhook handlers
}

// JobsPoolConfig holds configuration for the background job worker pool
type JobsPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize" validate:"gt=0"`
	QueueSize  int           `mapstructure:"queueSize" validate:"gt=0"`
	MaxBlock   time.Duration `mapstructure:"maxBlock"`
	ExpiryTime time.Duration `mapstructure:"expiryTime"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("nats.stream", "telephony_events")
	v.SetDefault("nats.subject", "v1.telephony")

	v.SetDefault("relay.maxConnections", 16)

	// Telnyx carrier-filtering error code; 65 results with 40 spam hits
	// places the owning market into a 2 hour cooldown.
	v.SetDefault("cooldown.spamErrorCode", "40002")
	v.SetDefault("cooldown.minResults", 65)
	v.SetDefault("cooldown.minSpamResults", 40)
	v.SetDefault("cooldown.duration", 2*time.Hour)

	v.SetDefault("skip.defaultThresholdDays", 30)

	v.SetDefault("classifier.scoreThreshold", 0.85)
	v.SetDefault("classifier.timeout", 3*time.Second)
	v.SetDefault("classifier.enabled", true)

	v.SetDefault("carrier.timeout", 3*time.Second)

	v.SetDefault("providers.timeout", 5*time.Second)
	v.SetDefault("providers.telnyx.baseURL", "https://api.telnyx.com/v2")
	v.SetDefault("providers.twilio.baseURL", "https://api.twilio.com/2010-04-01")

	v.SetDefault("jobs.poolSize", 10)
	v.SetDefault("jobs.queueSize", 10000)
	v.SetDefault("jobs.maxBlock", time.Second)
	v.SetDefault("jobs.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/telephony-engine")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
