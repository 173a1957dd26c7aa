package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type SessionConfig interface {
	// GetAPISecret is the HS256 secret guarding the session routes; empty
	// disables the bearer check.
	GetAPISecret() string
	GetSettleDelay() time.Duration
	GetRecheckDelay() time.Duration
}

type mainConfig struct {
	EnvVars
	Cors
	Session
}

func New() Config {
	return mainConfig{}
}
