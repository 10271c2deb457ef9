package config

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

const testKey = "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM="

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MAILCORE_ENV", "production")
	t.Setenv("MAILCORE_ENCRYPTION_KEY_BASE64", testKey)
	t.Setenv("MAILCORE_JWT_SECRET", "jwt-secret")
	t.Setenv("MAILCORE_DB_PASSWORD", "test-password")
}

func TestNewConfig(t *testing.T) {
	setRequired(t)
	t.Setenv("MAILCORE_DB_HOST", "db.internal")
	t.Setenv("MAILCORE_DB_USER", "test-user")
	t.Setenv("MAILCORE_DB_NAME", "testdb")
	t.Setenv("PORT", "3000")
	t.Setenv("MAILCORE_MAIL_TLS", "false")
	t.Setenv("MAILCORE_SESSION_IDLE_TIMEOUT", "120")
	t.Setenv("MAILCORE_CACHE_TTL", "2m")
	t.Setenv("MAILCORE_SEND_MAX_ATTEMPTS", "5")
	t.Setenv("MAILCORE_REDIS_URL", "redis://localhost:6379/0")

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.Environment != "production" {
		t.Errorf("expected Environment 'production', got '%s'", config.Environment)
	}
	if config.JWTSecret != "jwt-secret" {
		t.Errorf("expected JWTSecret 'jwt-secret', got '%s'", config.JWTSecret)
	}
	if config.DBHost != "db.internal" {
		t.Errorf("expected DBHost 'db.internal', got '%s'", config.DBHost)
	}
	if config.DBUsername != "test-user" {
		t.Errorf("expected DBUsername 'test-user', got '%s'", config.DBUsername)
	}
	if config.Port != "3000" {
		t.Errorf("expected Port '3000', got '%s'", config.Port)
	}
	if config.MailUseTLS {
		t.Error("expected MailUseTLS to be false")
	}
	if config.SessionIdleTimeout != 120*time.Second {
		t.Errorf("expected SessionIdleTimeout 120s, got %v", config.SessionIdleTimeout)
	}
	if config.CacheTTL != 2*time.Minute {
		t.Errorf("expected CacheTTL 2m, got %v", config.CacheTTL)
	}
	if config.SendMaxAttempts != 5 {
		t.Errorf("expected SendMaxAttempts 5, got %d", config.SendMaxAttempts)
	}
	if config.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("unexpected RedisURL '%s'", config.RedisURL)
	}
}

func TestNewConfigWithDefaults(t *testing.T) {
	setRequired(t)

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.DBHost != "localhost" {
		t.Errorf("expected default DBHost 'localhost', got '%s'", config.DBHost)
	}
	if config.DBName != "mailcore" {
		t.Errorf("expected default DBName 'mailcore', got '%s'", config.DBName)
	}
	if config.Port != "8080" {
		t.Errorf("expected default Port '8080', got '%s'", config.Port)
	}
	if !config.MailUseTLS {
		t.Error("expected MailUseTLS to default to true")
	}
	if config.SessionIdleTimeout != 300*time.Second {
		t.Errorf("expected default SessionIdleTimeout 300s, got %v", config.SessionIdleTimeout)
	}
	if config.CacheTTL != 60*time.Second {
		t.Errorf("expected default CacheTTL 60s, got %v", config.CacheTTL)
	}
	if config.SendMaxAttempts != 3 {
		t.Errorf("expected default SendMaxAttempts 3, got %d", config.SendMaxAttempts)
	}
	if config.SendBackoffBase != time.Second {
		t.Errorf("expected default SendBackoffBase 1s, got %v", config.SendBackoffBase)
	}
	if config.RedisURL != "" || config.S3Bucket != "" {
		t.Error("expected optional backends to be unset by default")
	}
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		set     map[string]string
		wantErr string
	}{
		{name: "missing encryption key", unset: "MAILCORE_ENCRYPTION_KEY_BASE64", wantErr: "MAILCORE_ENCRYPTION_KEY_BASE64"},
		{name: "missing jwt secret", unset: "MAILCORE_JWT_SECRET", wantErr: "MAILCORE_JWT_SECRET"},
		{name: "missing db password", unset: "MAILCORE_DB_PASSWORD", wantErr: "MAILCORE_DB_PASSWORD"},
		{name: "zero attempts", set: map[string]string{"MAILCORE_SEND_MAX_ATTEMPTS": "0"}, wantErr: "MAILCORE_SEND_MAX_ATTEMPTS"},
		{name: "bad duration", set: map[string]string{"MAILCORE_CACHE_TTL": "soon"}, wantErr: "MAILCORE_CACHE_TTL"},
		{name: "bad bool", set: map[string]string{"MAILCORE_MAIL_TLS": "maybe"}, wantErr: "MAILCORE_MAIL_TLS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			if tt.unset != "" {
				t.Setenv(tt.unset, "")
			}
			for k, v := range tt.set {
				t.Setenv(k, v)
			}

			_, err := NewConfig()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to mention %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	config := &Config{
		DBUsername: "user",
		DBPassword: "p@ss",
		DBHost:     "localhost",
		DBPort:     "5432",
		DBName:     "mailcore",
		DBSSLMode:  "disable",
	}

	parsed, err := url.Parse(config.GetDatabaseURL())
	if err != nil {
		t.Fatalf("GetDatabaseURL() produced an unparsable URL: %v", err)
	}
	if parsed.Host != "localhost:5432" {
		t.Errorf("expected host 'localhost:5432', got '%s'", parsed.Host)
	}
	if parsed.Query().Get("sslmode") != "disable" {
		t.Errorf("expected sslmode 'disable', got '%s'", parsed.Query().Get("sslmode"))
	}
}
