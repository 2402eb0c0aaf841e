package ransac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration file
type Config struct {
	MQTT    MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	HTTP    HTTPConfig   `yaml:"http" json:"http"`
	DataDir string       `yaml:"dataDir,omitempty" json:"dataDir,omitempty"` // Directory of *.problem.json files and the results cache
	Render  RenderConfig `yaml:"render" json:"render"`
	RANSAC  Settings     `yaml:"ransac" json:"ransac"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds the HTTP listener settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// RenderConfig holds output image settings
type RenderConfig struct {
	Width      float64 `yaml:"width" json:"width"`           // Canvas width in millimeters
	Padding    float64 `yaml:"padding" json:"padding"`       // Padding around the data in millimeters
	Resolution float64 `yaml:"resolution" json:"resolution"` // Vector PNG DPI
}

// DefaultConfig returns a configuration usable without a file
func DefaultConfig() *Config {
	return &Config{
		MQTT:    MQTTConfig{PublishPrefix: "loransac", ClientID: "loransac"},
		HTTP:    HTTPConfig{Port: 4040},
		DataDir: ".",
		Render:  RenderConfig{Width: 200, Padding: 10, Resolution: 150},
		RANSAC:  DefaultSettings(),
	}
}

// LoadConfig loads the configuration from a YAML file. Omitted fields keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := c.RANSAC.Validate(); err != nil {
		return fmt.Errorf("ransac: %w", err)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Render.Width <= 0 {
		return fmt.Errorf("render.width must be positive")
	}
	if c.Render.Resolution <= 0 {
		return fmt.Errorf("render.resolution must be positive")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
