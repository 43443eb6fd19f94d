package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any existing env vars
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("SETTINGS_PROFILE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}

	if cfg.SettingsProfile != "admin" {
		t.Errorf("expected settings profile 'admin', got %s", cfg.SettingsProfile)
	}

	if cfg.SettingsChannel != "opsbell:settings" {
		t.Errorf("expected settings channel 'opsbell:settings', got %s", cfg.SettingsChannel)
	}

	if cfg.RateLimit != 100 {
		t.Errorf("expected rate limit 100, got %d", cfg.RateLimit)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("ENV", "production")
	os.Setenv("SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:123456789:ops-alerts")
	os.Setenv("SES_OPS_EMAIL", "manager@casamarzia.example")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ENV")
		os.Unsetenv("SNS_TOPIC_ARN")
		os.Unsetenv("SES_OPS_EMAIL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}

	if cfg.SNSTopicARN != "arn:aws:sns:us-east-1:123456789:ops-alerts" {
		t.Errorf("unexpected SNS topic ARN: %s", cfg.SNSTopicARN)
	}

	if cfg.SESOpsEmail != "manager@casamarzia.example" {
		t.Errorf("unexpected ops email: %s", cfg.SESOpsEmail)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	os.Setenv("PORT", "not-a-number")
	defer os.Unsetenv("PORT")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoad_SQSRegionFallsBackToAWSRegion(t *testing.T) {
	os.Setenv("AWS_REGION", "eu-west-1")
	os.Unsetenv("SQS_REGION")
	defer os.Unsetenv("AWS_REGION")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("expected SQS region to follow AWS region, got %s", cfg.SQSRegion)
	}
}
