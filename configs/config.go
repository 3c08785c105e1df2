package config

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type R2 struct {
	AccountID  string `envconfig:"R2_ACCOUNT_ID"`
	AccessKey  string `envconfig:"R2_ACCESS_KEY"`
	SecretKey  string `envconfig:"R2_SECRET_KEY"`
	BucketName string `envconfig:"R2_BUCKET_NAME"`
	// Endpoint overrides the account derived endpoint, used against local S3 compatible stores.
	Endpoint string `envconfig:"R2_ENDPOINT"`
}

type Provider struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Scheduler struct {
	PostScanInterval       time.Duration `envconfig:"POST_SCAN_INTERVAL" default:"1m"`
	CredentialScanInterval time.Duration `envconfig:"CREDENTIAL_SCAN_INTERVAL" default:"5m"`
	BatchSize              int           `envconfig:"SCAN_BATCH_SIZE" default:"1000"`
	RequeueBackoff         time.Duration `envconfig:"REQUEUE_BACKOFF" default:"1m"`
	ReconcileInterval      time.Duration `envconfig:"RECONCILE_INTERVAL" default:"10m"`
}

type Queue struct {
	Backend        string        `envconfig:"QUEUE_BACKEND" default:"asynq"`
	KafkaBrokers   string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID   string        `envconfig:"KAFKA_GROUP_ID" default:"crosspost-workers"`
	Concurrency    int           `envconfig:"WORKER_CONCURRENCY" default:"10"`
	ConfirmTimeout time.Duration `envconfig:"PUBLISH_CONFIRM_TIMEOUT" default:"10s"`
	// RefreshGroupSize bounds how many credential ids are aggregated into one refresh batch.
	RefreshGroupSize  int           `envconfig:"REFRESH_GROUP_SIZE" default:"50"`
	RefreshGroupGrace time.Duration `envconfig:"REFRESH_GROUP_GRACE" default:"10s"`
}

type Refresh struct {
	SafetyWindow time.Duration `envconfig:"REFRESH_SAFETY_WINDOW" default:"24h"`
	MaxAttempts  int           `envconfig:"REFRESH_MAX_ATTEMPTS" default:"10"`
	RetryDelay   time.Duration `envconfig:"REFRESH_RETRY_DELAY" default:"30s"`
}

type Media struct {
	PollInterval time.Duration `envconfig:"MEDIA_POLL_INTERVAL" default:"5s"`
	PollAttempts int           `envconfig:"MEDIA_POLL_ATTEMPTS" default:"60"`
	URLTTL       time.Duration `envconfig:"MEDIA_URL_TTL" default:"15m"`
	// StorageHeaderTimeout bounds the wait for storage response headers.
	// Object bodies are streamed into provider uploads and have no deadline.
	StorageHeaderTimeout time.Duration `envconfig:"MEDIA_STORAGE_HEADER_TIMEOUT" default:"30s"`
}

type Config struct {
	InstagramClientID     string `envconfig:"INSTAGRAM_CLIENT_ID"`
	InstagramClientSecret string `envconfig:"INSTAGRAM_CLIENT_SECRET"`
	InstagramRedirectURI  string `envconfig:"INSTAGRAM_REDIRECT_URI"`
	GoogleClientID        string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI     string `envconfig:"GOOGLE_REDIRECT_URI"`
	LinkedinClientID      string `envconfig:"LINKEDIN_CLIENT_ID"`
	LinkedinClientSecret  string `envconfig:"LINKEDIN_CLIENT_SECRET"`
	LinkedinRedirectURI   string `envconfig:"LINKEDIN_REDIRECT_URI"`
	FacebookClientID      string `envconfig:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret  string `envconfig:"FACEBOOK_CLIENT_SECRET"`
	FacebookRedirectURI   string `envconfig:"FACEBOOK_REDIRECT_URI"`
	XConsumerKey          string `envconfig:"X_CONSUMER_KEY"`
	XConsumerSecret       string `envconfig:"X_CONSUMER_SECRET"`

	PostgresURI     string `envconfig:"POSTGRES_URI"`
	RedisURI        string `envconfig:"REDIS_URI"`
	FrontendURL     string `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`
	OpsPort         string `envconfig:"OPS_PORT" default:"3000"`
	OpsToken        string `envconfig:"OPS_TOKEN"`
	SecretKey       string `envconfig:"SECRET_KEY"`
	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`

	// Embedded so envconfig reads the nested keys without a field prefix.
	R2
	Scheduler
	Queue
	Refresh
	Media
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.PostgresURI == "" {
		return errors.New("POSTGRES_URI is required")
	}
	if c.RedisURI == "" {
		return errors.New("REDIS_URI is required")
	}
	// AES-256 key
	if len(c.SecretKey) != 32 {
		return errors.New("SECRET_KEY must be 32 bytes")
	}
	if c.OpsToken == "" {
		return errors.New("OPS_TOKEN is required")
	}
	if c.Queue.Backend != "asynq" && c.Queue.Backend != "kafka" {
		return errors.New("QUEUE_BACKEND must be asynq or kafka")
	}
	if c.Queue.Backend == "kafka" && c.Queue.KafkaBrokers == "" {
		return errors.New("KAFKA_BROKERS is required for the kafka backend")
	}
	if c.Scheduler.BatchSize <= 0 {
		return errors.New("SCAN_BATCH_SIZE must be positive")
	}
	return nil
}

func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Queue.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) Linkedin() Provider {
	return Provider{c.LinkedinClientID, c.LinkedinClientSecret, c.LinkedinRedirectURI}
}

func (c *Config) Google() Provider {
	return Provider{c.GoogleClientID, c.GoogleClientSecret, c.GoogleRedirectURI}
}

func (c *Config) Facebook() Provider {
	return Provider{c.FacebookClientID, c.FacebookClientSecret, c.FacebookRedirectURI}
}

func (c *Config) Instagram() Provider {
	return Provider{c.InstagramClientID, c.InstagramClientSecret, c.InstagramRedirectURI}
}
