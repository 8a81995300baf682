/*
Copyright 2025 The shiplift Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the declarative service and pipeline
// configuration.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding global setting is absent.
const (
	DefaultStageTimeoutSeconds = 120
	DefaultPollIntervalSeconds = 15
	DefaultRetryBound          = 3
)

// ServiceSpec is the externally supplied scaling configuration for a single
// service. It is read-only to the core.
type ServiceSpec struct {
	// MinReplicas is the lower replica bound. Must be >= 1.
	MinReplicas int `yaml:"minReplicas" json:"minReplicas" mapstructure:"minReplicas"`

	// MaxReplicas is the upper replica bound. Must be >= MinReplicas.
	MaxReplicas int `yaml:"maxReplicas" json:"maxReplicas" mapstructure:"maxReplicas"`

	// TargetUtilization is the load level, per replica, the autoscaler
	// steers toward (0.0-1.0 exclusive at the low end).
	TargetUtilization float64 `yaml:"targetUtilization" json:"targetUtilization" mapstructure:"targetUtilization"`

	// CooldownSeconds is the minimum elapsed time between consecutive
	// scaling actions for the service.
	CooldownSeconds int `yaml:"cooldownSeconds" json:"cooldownSeconds" mapstructure:"cooldownSeconds"`
}

// Cooldown returns the cooldown as a duration.
func (s ServiceSpec) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// Validate checks for invalid per-service configuration values.
func (s ServiceSpec) Validate() error {
	if s.MinReplicas < 1 {
		return fmt.Errorf("minReplicas must be >= 1, got %d", s.MinReplicas)
	}
	if s.MaxReplicas < s.MinReplicas {
		return fmt.Errorf("maxReplicas (%d) must be >= minReplicas (%d)", s.MaxReplicas, s.MinReplicas)
	}
	if s.TargetUtilization <= 0 || s.TargetUtilization > 1 {
		return fmt.Errorf("targetUtilization must be in (0, 1], got %.2f", s.TargetUtilization)
	}
	if s.CooldownSeconds < 0 {
		return fmt.Errorf("cooldownSeconds must be >= 0, got %d", s.CooldownSeconds)
	}
	return nil
}

// Config is the full declarative configuration: one ServiceSpec per managed
// service plus global pipeline and autoscaler settings.
type Config struct {
	// Services maps service name to its scaling spec. A change referencing
	// a service not present here is rejected.
	Services map[string]ServiceSpec `yaml:"services" json:"services" mapstructure:"services"`

	// StageTimeoutSeconds is the uniform per-stage execution timeout.
	StageTimeoutSeconds int `yaml:"stageTimeoutSeconds" json:"stageTimeoutSeconds" mapstructure:"stageTimeoutSeconds"`

	// PollIntervalSeconds is the autoscaler tick interval per service.
	PollIntervalSeconds int `yaml:"pollIntervalSeconds" json:"pollIntervalSeconds" mapstructure:"pollIntervalSeconds"`

	// RetryBound caps local retries for transient stage failures.
	RetryBound int `yaml:"retryBound" json:"retryBound" mapstructure:"retryBound"`
}

// StageTimeout returns the per-stage timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// PollInterval returns the autoscaler tick interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// KnownService reports whether the named service is configured.
func (c *Config) KnownService(name string) bool {
	_, ok := c.Services[name]
	return ok
}

// ServiceNames returns the configured service names in sorted order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks global settings and every ServiceSpec.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service must be configured")
	}
	if c.StageTimeoutSeconds <= 0 {
		return fmt.Errorf("stageTimeoutSeconds must be > 0, got %d", c.StageTimeoutSeconds)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("pollIntervalSeconds must be > 0, got %d", c.PollIntervalSeconds)
	}
	if c.RetryBound < 0 {
		return fmt.Errorf("retryBound must be >= 0, got %d", c.RetryBound)
	}
	for _, name := range c.ServiceNames() {
		if name == "" {
			return fmt.Errorf("service name cannot be empty")
		}
		if err := c.Services[name].Validate(); err != nil {
			return fmt.Errorf("service %q: %w", name, err)
		}
	}
	return nil
}

// Example renders a starting-point configuration in YAML form.
func Example() string {
	cfg := Config{
		Services: map[string]ServiceSpec{
			"taskapi": {MinReplicas: 2, MaxReplicas: 10, TargetUtilization: 0.5, CooldownSeconds: 120},
			"worker":  {MinReplicas: 1, MaxReplicas: 6, TargetUtilization: 0.7, CooldownSeconds: 300},
		},
		StageTimeoutSeconds: DefaultStageTimeoutSeconds,
		PollIntervalSeconds: DefaultPollIntervalSeconds,
		RetryBound:          DefaultRetryBound,
	}
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return ""
	}
	return string(out)
}

// Load reads the configuration file at path, applies global defaults, and
// validates the result. Settings may be overridden via SHIPLIFT_* environment
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("stageTimeoutSeconds", DefaultStageTimeoutSeconds)
	v.SetDefault("pollIntervalSeconds", DefaultPollIntervalSeconds)
	v.SetDefault("retryBound", DefaultRetryBound)
	v.SetEnvPrefix("SHIPLIFT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}
