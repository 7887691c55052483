// Package config loads the service configuration from, in increasing
// priority: built-in defaults, a JSON config file, the .env file and the
// process environment, and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
)

type Config struct {
	RunAddr             string        `env:"SERVER_ADDRESS" json:"server_address" validate:"hostname_port"`
	BaseURL             string        `env:"BASE_URL" json:"base_url" validate:"url"`
	LogLevel            string        `env:"LOG_LEVEL" json:"log_level" validate:"loglevel"`
	DBFileName          string        `env:"FILE_STORAGE_PATH" json:"file_storage_path" validate:"omitempty,writablepath"`
	DatabaseDSN         string        `env:"DATABASE_DSN" json:"database_dsn"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" json:"-" validate:"gt=0"`
	MigrationsDir       string        `env:"MIGRATIONS_DIR" json:"migrations_dir"`

	AccessTokenSecret string        `env:"ACCESS_TOKEN_SECRET" json:"access_token_secret" validate:"required,min=16"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" json:"-" validate:"gt=0"`
	AuthRateLimit     int           `env:"AUTH_RATE_LIMIT" json:"auth_rate_limit" validate:"min=0"`

	UploadsDir          string `env:"UPLOADS_DIR" json:"uploads_dir" validate:"required"`
	AssetsDir           string `env:"ASSETS_DIR" json:"assets_dir" validate:"required"`
	PlaceholderImageURL string `env:"PLACEHOLDER_IMAGE_URL" json:"placeholder_image_url" validate:"omitempty,url"`
	MaxUploadSize       int64  `env:"MAX_UPLOAD_SIZE" json:"max_upload_size" validate:"gt=0"`

	ImageStorage   string `env:"IMAGE_STORAGE" json:"image_storage" validate:"oneof=local s3"`
	S3Bucket       string `env:"S3_BUCKET" json:"s3_bucket" validate:"required_if=ImageStorage s3"`
	S3Region       string `env:"S3_REGION" json:"s3_region"`
	S3BaseEndpoint string `env:"S3_BASE_ENDPOINT" json:"s3_base_endpoint" validate:"omitempty,url"`
	S3AccessKey    string `env:"S3_ACCESS_KEY" json:"s3_access_key"`
	S3SecretKey    string `env:"S3_SECRET_KEY" json:"s3_secret_key"`

	ImageCleanerQueueCapacity int           `env:"IMAGE_CLEANER_QUEUE_CAPACITY" json:"image_cleaner_queue_capacity" validate:"min=1"`
	ImageCleanerFlushInterval time.Duration `env:"IMAGE_CLEANER_FLUSH_INTERVAL" json:"-" validate:"gt=0"`

	TrustedSubnet      string   `env:"TRUSTED_SUBNET" json:"trusted_subnet" validate:"omitempty,cidr"`
	TrustedProxies     []string `env:"TRUSTED_PROXIES" envSeparator:"," json:"trusted_proxies" validate:"dive,cidr"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," json:"cors_allowed_origins" validate:"min=1"`

	ConfigFile string `env:"CONFIG" json:"-"`
}

var defaultConfig = Config{
	RunAddr:                   ":8000",
	BaseURL:                   "http://localhost:8000",
	LogLevel:                  "info",
	DBConnectionTimeout:       10 * time.Second,
	MigrationsDir:             "cmd/wandernotes/migrations",
	AccessTokenTTL:            72 * time.Hour,
	AuthRateLimit:             20,
	UploadsDir:                "uploads",
	AssetsDir:                 "assets",
	MaxUploadSize:             10 << 20,
	ImageStorage:              "local",
	S3Region:                  "us-east-1",
	ImageCleanerQueueCapacity: 256,
	ImageCleanerFlushInterval: 5 * time.Second,
	CORSAllowedOrigins:        []string{"*"},
	TrustedProxies:            []string{"127.0.0.0/8", "::1/128"},
}

const placeholderImagePath = "/assets/placeholder.png"

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

// WithDisableFlagsParsing skips command-line flags; used by tests.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// flagValues holds the flags which were explicitly set on the command line.
type flagValues struct {
	set map[string]string
}

func (f flagValues) lookup(name string) (string, bool) {
	value, ok := f.set[name]
	return value, ok
}

func parseFlags(args []string) (flagValues, error) {
	flagSet := flag.NewFlagSet("wandernotes", flag.ContinueOnError)
	flagSet.String("a", "", "address and port to run server")
	flagSet.String("b", "", "public base URL used to build image links")
	flagSet.String("l", "", "logger level")
	flagSet.String("f", "", "JSON file name with database")
	flagSet.String("d", "", "a string with the database connection details")
	flagSet.String("c", "", "JSON config file name")
	flagSet.String("t", "", "trusted subnet in CIDR notation")
	flagSet.String("u", "", "directory for uploaded images")
	if err := flagSet.Parse(args); err != nil {
		return flagValues{}, err
	}

	result := flagValues{set: map[string]string{}}
	flagSet.Visit(func(f *flag.Flag) {
		result.set[f.Name] = f.Value.String()
	})

	return result, nil
}

func (c *Config) applyFlags(flags flagValues) {
	targets := map[string]*string{
		"a": &c.RunAddr,
		"b": &c.BaseURL,
		"l": &c.LogLevel,
		"f": &c.DBFileName,
		"d": &c.DatabaseDSN,
		"t": &c.TrustedSubnet,
		"u": &c.UploadsDir,
	}
	for name, target := range targets {
		if value, ok := flags.lookup(name); ok {
			*target = value
		}
	}
}

func applyDefaults(values *Config, defaults Config) {
	*values = defaults
	values.CORSAllowedOrigins = append([]string(nil), defaults.CORSAllowedOrigins...)
	values.TrustedProxies = append([]string(nil), defaults.TrustedProxies...)
}

func (c *Config) loadJSONFile(fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSONFile(): error while `os.ReadFile()` calling: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSONFile(): error while `json.Unmarshal()` calling: %w", err)
	}

	return nil
}

func (c *Config) clarifyURLs() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PlaceholderImageURL == "" {
		c.PlaceholderImageURL = c.BaseURL + placeholderImagePath
	}
}

func validateWritablePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	_, err := os.Stat(filepath.Dir(path))

	return err == nil
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[value]
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("writablepath", validateWritablePath)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}

// New builds the configuration. Priority: flags > environment (.env included) >
// JSON config file > defaults.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("in internal/config/config.go/New(): error while `godotenv.Load()` calling: %w", err)
	}

	flags := flagValues{}
	if !options.disableFlagsParsing {
		flags, err = parseFlags(os.Args[1:])
		if err != nil {
			return nil, err
		}
	}

	values := &Config{}
	applyDefaults(values, defaultConfig)

	configFile := os.Getenv("CONFIG")
	if fileFromFlag, ok := flags.lookup("c"); ok {
		configFile = fileFromFlag
	}
	if configFile != "" {
		if err := values.loadJSONFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(values); err != nil {
		return nil, err
	}
	values.ConfigFile = configFile

	values.applyFlags(flags)
	values.clarifyURLs()

	if err := values.validate(); err != nil {
		return nil, err
	}

	return values, nil
}
