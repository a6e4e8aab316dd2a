package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings
// coordinator - clean separation between settings and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Vault     *VaultConfig     `json:"vault"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: Liveness window is 3x the client ping interval so a
// single dropped ping never evicts a healthy guardian connection
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	LivenessWindow time.Duration `json:"liveness_window"`
	SweepInterval  time.Duration `json:"sweep_interval"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
}

type AuthConfig struct {
	Secret   string        `json:"secret"`
	TokenTTL time.Duration `json:"token_ttl"`
}

// VaultConfig carries the hex-encoded 256-bit chat-log key; empty means the
// scrypt fallback (flagged unsafe for production at startup)
type VaultConfig struct {
	EncryptionKey string `json:"encryption_key"`
}

// DefaultConfig returns production-ready defaults
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./lifeline.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         5001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			LivenessWindow: 90 * time.Second,
			SweepInterval:  30 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
		},
		Auth: &AuthConfig{
			Secret:   "change-me-in-production",
			TokenTTL: 24 * time.Hour,
		},
		Vault: &VaultConfig{
			EncryptionKey: "",
		},
	}
}

// Validate prevents invalid system configurations from reaching runtime
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.LivenessWindow <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket liveness window must exceed the ping interval")
	}
	if c.WebSocket.SweepInterval <= 0 {
		return fmt.Errorf("WebSocket sweep interval must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive")
	}

	if c.Vault == nil {
		return fmt.Errorf("vault configuration is required")
	}

	return nil
}

// LoadFromEnv overrides defaults with LIFELINE_* environment variables
// FUNCTIONAL DISCOVERY: Environment variable configuration enables
// containerized deployments and configuration management systems
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("LIFELINE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("LIFELINE_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("LIFELINE_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if dbTimeout := os.Getenv("LIFELINE_DATABASE_TIMEOUT"); dbTimeout != "" {
		if timeout, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.Timeout = timeout
		}
	}
	if pingInterval := os.Getenv("LIFELINE_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}
	if window := os.Getenv("LIFELINE_WEBSOCKET_LIVENESS_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.WebSocket.LivenessWindow = d
		}
	}
	if sweep := os.Getenv("LIFELINE_WEBSOCKET_SWEEP_INTERVAL"); sweep != "" {
		if d, err := time.ParseDuration(sweep); err == nil {
			config.WebSocket.SweepInterval = d
		}
	}
	if secret := os.Getenv("LIFELINE_JWT_SECRET"); secret != "" {
		config.Auth.Secret = secret
	}
	if ttl := os.Getenv("LIFELINE_TOKEN_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Auth.TokenTTL = d
		}
	}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		config.Vault.EncryptionKey = key
	}

	return config
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Auth      *AuthConfigFile      `json:"auth"`
	Vault     *VaultConfig         `json:"vault"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	LivenessWindow string `json:"liveness_window"`
	SweepInterval  string `json:"sweep_interval"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
}

type AuthConfigFile struct {
	Secret   string `json:"secret"`
	TokenTTL string `json:"token_ttl"`
}

// LoadFromFile supports complex deployment scenarios with a JSON config file
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if timeout, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = timeout
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = d
			}
		}
		if configFile.WebSocket.LivenessWindow != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.LivenessWindow); err == nil {
				config.WebSocket.LivenessWindow = d
			}
		}
		if configFile.WebSocket.SweepInterval != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.SweepInterval); err == nil {
				config.WebSocket.SweepInterval = d
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = d
			}
		}
	}

	if configFile.Auth != nil {
		if configFile.Auth.Secret != "" {
			config.Auth.Secret = configFile.Auth.Secret
		}
		if configFile.Auth.TokenTTL != "" {
			if d, err := time.ParseDuration(configFile.Auth.TokenTTL); err == nil {
				config.Auth.TokenTTL = d
			}
		}
	}

	if configFile.Vault != nil {
		config.Vault = configFile.Vault
	}

	// ARCHITECTURAL DISCOVERY: Validate after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence applies precedence: file > environment > defaults
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
		// Silently ignore file errors - environment/defaults still work
	}

	return config
}
