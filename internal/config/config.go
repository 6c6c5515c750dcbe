package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

type GeneratorBackend string

const (
	GeneratorBackendAPI    GeneratorBackend = "api"
	GeneratorBackendOpenAI GeneratorBackend = "openai"
	GeneratorBackendMock   GeneratorBackend = "mock"
)

// Tuning values with sensible defaults
type tuning struct {
	Port string `env:"PORT" envDefault:"8080"`

	StorageBucket    string `env:"STORAGE_BUCKET" envDefault:"Meals"`
	StoragePublicURL string `env:"STORAGE_PUBLIC_URL"`

	FailureCooldown   time.Duration `env:"FAILURE_COOLDOWN" envDefault:"10m"`
	UploadAttempts    int           `env:"UPLOAD_ATTEMPTS" envDefault:"3"`
	UploadBackoffBase time.Duration `env:"UPLOAD_BACKOFF_BASE" envDefault:"1s"`

	ImageMaxDimension int    `env:"IMAGE_MAX_DIMENSION" envDefault:"1024"`
	ImageJPEGQuality  int    `env:"IMAGE_JPEG_QUALITY" envDefault:"70"`
	ScratchDir        string `env:"SCRATCH_DIR"`

	NetworkTimeout        time.Duration `env:"NETWORK_TIMEOUT" envDefault:"30s"`
	GenerationTimeout     time.Duration `env:"GENERATION_TIMEOUT" envDefault:"90s"`
	GenerationLimit       int           `env:"GENERATION_LIMIT" envDefault:"60"`
	GenerationLimitWindow time.Duration `env:"GENERATION_LIMIT_WINDOW" envDefault:"1m"`

	BatchConcurrency int `env:"BATCH_CONCURRENCY" envDefault:"8"`

	GoogleCloudProject string `env:"GOOGLE_CLOUD_PROJECT"`
}

type Config struct {
	cloudSQLUnixSocketPath string
	dBPassword             string
	dBUsername             string
	sentryDSN              string

	storageURL        string
	storageServiceKey string

	generatorBackend       GeneratorBackend
	generatorAPIURL        string
	generatorAuthToken     string
	generatorAuthTokenFile string
	openAIAPIKey           string
	openAIBaseURL          string

	adminToken string

	tuning tuning

	env environment
}

func (c *Config) CloudSQLUnixSocketPath() string {
	return c.cloudSQLUnixSocketPath
}

func (c *Config) DBPassword() string {
	return c.dBPassword
}

func (c *Config) DBUsername() string {
	return c.dBUsername
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) StorageURL() string {
	return c.storageURL
}

func (c *Config) StorageServiceKey() string {
	return c.storageServiceKey
}

func (c *Config) StorageBucket() string {
	return c.tuning.StorageBucket
}

// Base of public object URLs. Defaults to the public object endpoint of the storage API.
func (c *Config) StoragePublicURL() string {
	if c.tuning.StoragePublicURL != "" {
		return c.tuning.StoragePublicURL
	}
	if c.storageURL == "" {
		return ""
	}
	return c.storageURL + "/object/public"
}

func (c *Config) GeneratorBackend() GeneratorBackend {
	return c.generatorBackend
}

func (c *Config) GeneratorAPIURL() string {
	return c.generatorAPIURL
}

func (c *Config) GeneratorAuthToken() string {
	return c.generatorAuthToken
}

func (c *Config) GeneratorAuthTokenFile() string {
	return c.generatorAuthTokenFile
}

func (c *Config) OpenAIAPIKey() string {
	return c.openAIAPIKey
}

func (c *Config) OpenAIBaseURL() string {
	return c.openAIBaseURL
}

func (c *Config) AdminToken() string {
	return c.adminToken
}

func (c *Config) Port() string {
	return c.tuning.Port
}

func (c *Config) FailureCooldown() time.Duration {
	return c.tuning.FailureCooldown
}

func (c *Config) UploadAttempts() int {
	return c.tuning.UploadAttempts
}

func (c *Config) UploadBackoffBase() time.Duration {
	return c.tuning.UploadBackoffBase
}

func (c *Config) ImageMaxDimension() int {
	return c.tuning.ImageMaxDimension
}

func (c *Config) ImageJPEGQuality() int {
	return c.tuning.ImageJPEGQuality
}

func (c *Config) ScratchDir() string {
	if c.tuning.ScratchDir == "" {
		return os.TempDir()
	}
	return c.tuning.ScratchDir
}

func (c *Config) NetworkTimeout() time.Duration {
	return c.tuning.NetworkTimeout
}

func (c *Config) GenerationTimeout() time.Duration {
	return c.tuning.GenerationTimeout
}

func (c *Config) GenerationLimit() int {
	return c.tuning.GenerationLimit
}

func (c *Config) GenerationLimitWindow() time.Duration {
	return c.tuning.GenerationLimitWindow
}

func (c *Config) BatchConcurrency() int {
	return c.tuning.BatchConcurrency
}

func (c *Config) GoogleCloudProject() string {
	return c.tuning.GoogleCloudProject
}

func (c *Config) Environment() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, generator: %s, bucket: %s, cooldown: %s, uploadAttempts: %d, ...}",
		string(c.env),
		string(c.generatorBackend),
		c.tuning.StorageBucket,
		c.tuning.FailureCooldown,
		c.tuning.UploadAttempts,
	)
}

func (t tuning) validate() error {
	invalid := func(key string, value any) error {
		return fmt.Errorf("%w: %s (%v)", ErrInvalidValue, key, value)
	}

	if t.UploadAttempts < 1 {
		return invalid("UPLOAD_ATTEMPTS", t.UploadAttempts)
	}
	if t.UploadBackoffBase < 0 {
		return invalid("UPLOAD_BACKOFF_BASE", t.UploadBackoffBase)
	}
	if t.FailureCooldown < 0 {
		return invalid("FAILURE_COOLDOWN", t.FailureCooldown)
	}
	if t.ImageMaxDimension < 16 {
		return invalid("IMAGE_MAX_DIMENSION", t.ImageMaxDimension)
	}
	if t.ImageJPEGQuality < 1 || t.ImageJPEGQuality > 100 {
		return invalid("IMAGE_JPEG_QUALITY", t.ImageJPEGQuality)
	}
	if t.NetworkTimeout <= 0 {
		return invalid("NETWORK_TIMEOUT", t.NetworkTimeout)
	}
	if t.GenerationTimeout <= 0 {
		return invalid("GENERATION_TIMEOUT", t.GenerationTimeout)
	}
	if t.GenerationLimit < 1 {
		return invalid("GENERATION_LIMIT", t.GenerationLimit)
	}
	if t.GenerationLimitWindow <= 0 {
		return invalid("GENERATION_LIMIT_WINDOW", t.GenerationLimitWindow)
	}
	if t.BatchConcurrency < 1 {
		return invalid("BATCH_CONCURRENCY", t.BatchConcurrency)
	}
	return nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var appEnv environment
	rawEnv, ok := os.LookupEnv("MEALIMAGES_ENVIRONMENT")
	if !ok {
		return missingKey("MEALIMAGES_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		appEnv = production
	case "staging":
		appEnv = staging
	case "development":
		appEnv = development
	default:
		return Config{}, fmt.Errorf("%w: MEALIMAGES_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}

	t, err := env.ParseAs[tuning]()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if err := t.validate(); err != nil {
		return Config{}, err
	}

	cloudSQLUnixSocketPath := os.Getenv("CLOUDSQL_UNIX_SOCKET")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbUsername := os.Getenv("DB_USERNAME")
	sentryDSN := os.Getenv("SENTRY_DSN")
	storageURL := os.Getenv("STORAGE_URL")
	storageServiceKey := os.Getenv("STORAGE_SERVICE_KEY")
	generatorAPIURL := os.Getenv("GENERATOR_API_URL")
	generatorAuthToken := os.Getenv("GENERATOR_AUTH_TOKEN")
	generatorAuthTokenFile := os.Getenv("GENERATOR_AUTH_TOKEN_FILE")
	openAIAPIKey := os.Getenv("OPENAI_API_KEY")
	openAIBaseURL := os.Getenv("OPENAI_BASE_URL")
	adminToken := os.Getenv("ADMIN_TOKEN")

	var generatorBackend GeneratorBackend
	switch rawBackend := os.Getenv("GENERATOR_BACKEND"); rawBackend {
	case "":
		generatorBackend = GeneratorBackendAPI
		if appEnv == development {
			generatorBackend = GeneratorBackendMock
		}
	case string(GeneratorBackendAPI), string(GeneratorBackendOpenAI), string(GeneratorBackendMock):
		generatorBackend = GeneratorBackend(rawBackend)
	default:
		return Config{}, fmt.Errorf("%w: GENERATOR_BACKEND (%s)", ErrInvalidValue, rawBackend)
	}

	if appEnv == production || appEnv == staging {
		if cloudSQLUnixSocketPath == "" {
			return missingKey("CLOUDSQL_UNIX_SOCKET")
		}
		if dbUsername == "" {
			return missingKey("DB_USERNAME")
		}
		if dbPassword == "" {
			return missingKey("DB_PASSWORD")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
		if storageURL == "" {
			return missingKey("STORAGE_URL")
		}
		if storageServiceKey == "" {
			return missingKey("STORAGE_SERVICE_KEY")
		}
		if adminToken == "" {
			return missingKey("ADMIN_TOKEN")
		}

		switch generatorBackend {
		case GeneratorBackendAPI:
			if generatorAPIURL == "" {
				return missingKey("GENERATOR_API_URL")
			}
			if generatorAuthToken == "" && generatorAuthTokenFile == "" {
				return missingKey("GENERATOR_AUTH_TOKEN")
			}
		case GeneratorBackendOpenAI:
			if openAIAPIKey == "" {
				return missingKey("OPENAI_API_KEY")
			}
		case GeneratorBackendMock:
			return Config{}, fmt.Errorf("%w: GENERATOR_BACKEND (mock is only allowed in development)", ErrInvalidValue)
		}
	}

	return Config{
		cloudSQLUnixSocketPath: cloudSQLUnixSocketPath,
		dBPassword:             dbPassword,
		dBUsername:             dbUsername,
		sentryDSN:              sentryDSN,

		storageURL:        storageURL,
		storageServiceKey: storageServiceKey,

		generatorBackend:       generatorBackend,
		generatorAPIURL:        generatorAPIURL,
		generatorAuthToken:     generatorAuthToken,
		generatorAuthTokenFile: generatorAuthTokenFile,
		openAIAPIKey:           openAIAPIKey,
		openAIBaseURL:          openAIBaseURL,

		adminToken: adminToken,

		tuning: t,

		env: appEnv,
	}, nil
}
