package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ServiceSpec
		wantErr bool
	}{
		{
			name:    "Test case 1: Valid spec",
			spec:    ServiceSpec{MinReplicas: 2, MaxReplicas: 10, TargetUtilization: 0.5, CooldownSeconds: 60},
			wantErr: false,
		},
		{
			name:    "Test case 2: Zero min replicas",
			spec:    ServiceSpec{MinReplicas: 0, MaxReplicas: 10, TargetUtilization: 0.5},
			wantErr: true,
		},
		{
			name:    "Test case 3: Max below min",
			spec:    ServiceSpec{MinReplicas: 5, MaxReplicas: 2, TargetUtilization: 0.5},
			wantErr: true,
		},
		{
			name:    "Test case 4: Zero target utilization",
			spec:    ServiceSpec{MinReplicas: 1, MaxReplicas: 2, TargetUtilization: 0},
			wantErr: true,
		},
		{
			name:    "Test case 5: Target utilization above one",
			spec:    ServiceSpec{MinReplicas: 1, MaxReplicas: 2, TargetUtilization: 1.2},
			wantErr: true,
		},
		{
			name:    "Test case 6: Negative cooldown",
			spec:    ServiceSpec{MinReplicas: 1, MaxReplicas: 2, TargetUtilization: 0.5, CooldownSeconds: -1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Services: map[string]ServiceSpec{
				"taskapi": {MinReplicas: 2, MaxReplicas: 10, TargetUtilization: 0.5, CooldownSeconds: 60},
			},
			StageTimeoutSeconds: 120,
			PollIntervalSeconds: 15,
			RetryBound:          3,
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("no services rejected", func(t *testing.T) {
		cfg := valid()
		cfg.Services = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid service spec rejected with service name in error", func(t *testing.T) {
		cfg := valid()
		cfg.Services["worker"] = ServiceSpec{MinReplicas: 3, MaxReplicas: 1, TargetUtilization: 0.5}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "worker")
	})

	t.Run("non-positive globals rejected", func(t *testing.T) {
		cfg := valid()
		cfg.PollIntervalSeconds = 0
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.StageTimeoutSeconds = 0
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.RetryBound = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shiplift.yaml")
	data := []byte(`
services:
  taskapi:
    minReplicas: 2
    maxReplicas: 10
    targetUtilization: 0.5
    cooldownSeconds: 60
  worker:
    minReplicas: 1
    maxReplicas: 4
    targetUtilization: 0.7
pollIntervalSeconds: 5
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"taskapi", "worker"}, cfg.ServiceNames())
	assert.True(t, cfg.KnownService("taskapi"))
	assert.False(t, cfg.KnownService("frontend"))
	assert.Equal(t, 5, cfg.PollIntervalSeconds)

	// Globals not present in the file fall back to defaults.
	assert.Equal(t, DefaultStageTimeoutSeconds, cfg.StageTimeoutSeconds)
	assert.Equal(t, DefaultRetryBound, cfg.RetryBound)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shiplift.yaml")
	data := []byte(`
services:
  taskapi:
    minReplicas: 5
    maxReplicas: 2
    targetUtilization: 0.5
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestExampleIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	require.NoError(t, os.WriteFile(path, []byte(Example()), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"taskapi", "worker"}, cfg.ServiceNames())
}
