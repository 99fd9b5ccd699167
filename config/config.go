// Copyright 2025 Fleetbridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads control-plane configuration from an optional YAML
// file with environment variables taking precedence, and resolves secret
// material through a pluggable secrets backend.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings such as
// "45m" or "1h30m". Plain integers are taken as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(ns)
	return nil
}

// Config is the full control-plane configuration.
type Config struct {
	// Port the HTTP API listens on.
	Port int `yaml:"port"`
	// DatabaseURL is the control plane's own PostgreSQL DSN.
	DatabaseURL string `yaml:"database_url"`
	// RedisURL enables the login routing cache when set.
	RedisURL string `yaml:"redis_url"`
	// CallbackBaseURL is the externally reachable base URL handed to
	// application servers for execution callbacks.
	CallbackBaseURL string `yaml:"callback_base_url"`
	// CORSOrigins lists allowed browser origins for the API.
	CORSOrigins []string `yaml:"cors_origins"`

	// SecretsBackend selects aws, env, or local.
	SecretsBackend string `yaml:"secrets_backend"`
	// SecretsRef names the secret holding webhook_secret, encryption_key,
	// and jwt_secret. For the aws backend it is an ARN; for env, a
	// variable prefix.
	SecretsRef string `yaml:"secrets_ref"`
	// AWSRegion overrides the region for the aws backend.
	AWSRegion string `yaml:"aws_region"`

	// DirectoryStaleAfter gates tenant re-sync.
	DirectoryStaleAfter Duration `yaml:"directory_stale_after"`
	// ReconcileInterval drives the execution reconciler loop.
	ReconcileInterval Duration `yaml:"reconcile_interval"`
	// HealthCheckInterval drives the periodic instance probes. Zero
	// disables the loop; probes can still be requested over the API.
	HealthCheckInterval Duration `yaml:"health_check_interval"`

	// Secrets holds resolved secret material. Never serialized.
	Secrets Secrets `yaml:"-"`
}

// Secrets is the resolved secret material the control plane runs with.
type Secrets struct {
	// WebhookSecret signs outbound webhooks and verifies callbacks.
	WebhookSecret string
	// EncryptionKey protects instance credentials at rest.
	EncryptionKey string
	// JWTSecret verifies API tokens on mutating routes.
	JWTSecret string
}

// Load reads the optional YAML file at path, then applies environment
// overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:                8090,
		SecretsBackend:      "env",
		SecretsRef:          "FLEETBRIDGE",
		DirectoryStaleAfter: Duration(45 * time.Minute),
		ReconcileInterval:   Duration(5 * time.Minute),
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required (set DATABASE_URL)")
	}
	if cfg.CallbackBaseURL == "" {
		return nil, fmt.Errorf("callback base URL is required (set CALLBACK_BASE_URL)")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("CALLBACK_BASE_URL"); v != "" {
		c.CallbackBaseURL = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("SECRETS_BACKEND"); v != "" {
		c.SecretsBackend = v
	}
	if v := os.Getenv("SECRETS_REF"); v != "" {
		c.SecretsRef = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWSRegion = v
	}
	if v := os.Getenv("DIRECTORY_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DirectoryStaleAfter = Duration(d)
		}
	}
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReconcileInterval = Duration(d)
		}
	}
	if v := os.Getenv("HEALTH_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HealthCheckInterval = Duration(d)
		}
	}
}

// ResolveSecrets fetches webhook, encryption, and JWT material through the
// configured backend. Missing keys are configuration errors surfaced
// immediately, never silently defaulted.
func (c *Config) ResolveSecrets(ctx context.Context, sm SecretsManager) error {
	values, err := sm.GetSecret(ctx, c.SecretsRef)
	if err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}

	c.Secrets.WebhookSecret = values["webhook_secret"]
	c.Secrets.EncryptionKey = values["encryption_key"]
	c.Secrets.JWTSecret = values["jwt_secret"]

	var missing []string
	if c.Secrets.WebhookSecret == "" {
		missing = append(missing, "webhook_secret")
	}
	if c.Secrets.EncryptionKey == "" {
		missing = append(missing, "encryption_key")
	}
	if c.Secrets.JWTSecret == "" {
		missing = append(missing, "jwt_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("secret %s is missing keys: %s", c.SecretsRef, strings.Join(missing, ", "))
	}
	return nil
}

// NewSecretsManager builds the backend named by SecretsBackend.
func (c *Config) NewSecretsManager(ctx context.Context) (SecretsManager, error) {
	switch c.SecretsBackend {
	case "aws":
		return NewAWSSecretsManager(ctx, AWSSecretsManagerOptions{Region: c.AWSRegion})
	case "env":
		return NewEnvSecretsManager(nil), nil
	case "local":
		return NewLocalSecretsManager(nil), nil
	}
	return nil, fmt.Errorf("unknown secrets backend %q", c.SecretsBackend)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
