package ransac

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
ransac:
  inlierThreshold: 3
  scoring: ransac
  localOptimizationSettings:
    maxIterations: 20
    sampleSizeMultiplier: 5
`)
	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", config.MQTT.Broker)
	assert.Equal(t, "loransac", config.MQTT.PublishPrefix)
	assert.Equal(t, 4040, config.HTTP.Port)
	assert.Equal(t, 3.0, config.RANSAC.InlierThreshold)
	assert.Equal(t, ScoringRANSAC, config.RANSAC.Scoring)
	assert.Equal(t, 5000, config.RANSAC.MaxIterations)
	assert.Equal(t, LocalOptimizationSettings{MaxIterations: 20, SampleSizeMultiplier: 5}, config.RANSAC.LocalOptimizationSettings)
	assert.Equal(t, LocalOptimizationIRLS, config.RANSAC.FinalOptimization)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "ransac: [", "parsing config YAML"},
		{"unknown enum", "ransac:\n  scoring: prosac\n", "unknown scoring type"},
		{"invalid settings", "ransac:\n  confidence: 1.5\n", "confidence"},
		{"magsac unsupported", "ransac:\n  scoring: magsac\n", "not supported"},
		{"bad port", "http:\n  port: 70000\n", "http.port"},
		{"bad render width", "render:\n  width: 0\n", "render.width"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	config := DefaultConfig()
	config.MQTT.Broker = "tcp://broker:1883"
	config.RANSAC.LocalOptimization = LocalOptimizationNone
	config.RANSAC.Seed = 17

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(path, config))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "scoring: msac"), "enums are written by name:\n%s", data)
	assert.Contains(t, string(data), "localOptimization: none")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, loaded)
}
