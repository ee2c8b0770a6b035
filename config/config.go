package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application, read from the
// environment (and a .env file in development).
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":4000"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// ClientOrigin is used to build share links and allow CORS.
	ClientOrigin string `envconfig:"CLIENT_ORIGIN" default:"http://localhost:3000"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	StorageType      string `envconfig:"STORAGE_TYPE"`
	DataSourceName   string `envconfig:"DATA_SOURCE_NAME" default:"collabdocs.db"`
	LocalStoragePath string `envconfig:"LOCAL_STORAGE_PATH" default:"./data"`
	S3BucketName     string `envconfig:"S3_BUCKET_NAME"`

	// AutosaveInterval is how often a joined session flushes its latest
	// content snapshot to the document store.
	AutosaveInterval time.Duration `envconfig:"AUTOSAVE_INTERVAL" default:"30s"`

	AIAPIKey  string `envconfig:"AI_API_KEY"`
	AIBaseURL string `envconfig:"AI_BASE_URL" default:"https://api.openai.com"`
	AIModel   string `envconfig:"AI_MODEL" default:"gpt-4o-mini"`

	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL  string `envconfig:"GITHUB_REDIRECT_URL"`
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
