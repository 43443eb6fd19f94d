package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database (settings row)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (change feed, rate limiting, idempotency)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Settings row / change feed
	SettingsProfile string
	SettingsChannel string

	// SQS ingest (booking/contact event queue)
	SQSRegion   string
	SQSQueueURL string

	// Escalation targets for critical alerts
	AWSRegion       string
	SNSTopicARN     string // SMS/push to the floor manager
	SESFromEmail    string
	SESOpsEmail     string // plain-text critical alert email
	WebhookURL      string
	WebhookTimeout  int // seconds

	// Rate limiting
	RateLimit       int
	RateLimitWindow int // seconds
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "opsbell",
		DBPassword: "",
		DBName:     "opsbell",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		SettingsProfile: "admin",
		SettingsChannel: "opsbell:settings",

		AWSRegion:    "us-east-1",
		SESFromEmail: "alerts@casamarzia.local",

		RateLimit:       100,
		RateLimitWindow: 60,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if profile := os.Getenv("SETTINGS_PROFILE"); profile != "" {
		cfg.SettingsProfile = profile
	}

	if channel := os.Getenv("SETTINGS_CHANNEL"); channel != "" {
		cfg.SettingsChannel = channel
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// SQS ingest config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Escalation config
	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		cfg.SNSTopicARN = arn
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if to := os.Getenv("SES_OPS_EMAIL"); to != "" {
		cfg.SESOpsEmail = to
	}

	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}

	if timeout := os.Getenv("WEBHOOK_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = t
	} else {
		cfg.WebhookTimeout = 30 // default 30 seconds
	}

	// Rate limiting
	if limit := os.Getenv("RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = l
	}

	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		w, err := strconv.Atoi(window)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
		}
		cfg.RateLimitWindow = w
	}

	return cfg, nil
}
