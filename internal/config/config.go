package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	// RingTimeout is how long an unanswered call stays waiting before the
	// sweep closes it as missed. Zero disables the sweep.
	RingTimeout time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`

	// MessageRateLimit caps chat messages per connection per minute.
	// Zero means unlimited.
	MessageRateLimit int `mapstructure:"message_rate_limit" yaml:"message_rate_limit"`

	// Media backend settings. Calls carry lifecycle state only when the
	// URL is empty.
	MediaURL       string `mapstructure:"media_url" yaml:"media_url"`
	MediaAPIKey    string `mapstructure:"media_api_key" yaml:"media_api_key"`
	MediaAPISecret string `mapstructure:"media_api_secret" yaml:"media_api_secret"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "campuslink.db",
		LogLevel:          "info",
		JWTSecret:         "change-me",
		JWTIssuer:         "campuslink",
		JWTAudience:       "campuslink",
		JWTTTL:            24 * time.Hour,
		RingTimeout:       45 * time.Second,
		MessageRateLimit:  120,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
	if other.RingTimeout != 0 {
		c.RingTimeout = other.RingTimeout
	}
	if other.MessageRateLimit != 0 {
		c.MessageRateLimit = other.MessageRateLimit
	}
	if other.MediaURL != "" {
		c.MediaURL = other.MediaURL
	}
	if other.MediaAPIKey != "" {
		c.MediaAPIKey = other.MediaAPIKey
	}
	if other.MediaAPISecret != "" {
		c.MediaAPISecret = other.MediaAPISecret
	}
}
