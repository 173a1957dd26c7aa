package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetAPISecret() string {
	return GetEnv("API_SECRET", "")
}

// GetSettleDelay is the pause before a contact discovery scan; the protocol
// store is eventually consistent after a fresh connection.
func (Session) GetSettleDelay() time.Duration {
	return durationEnv("SETTLE_DELAY", 2*time.Second)
}

// GetRecheckDelay is the defensive delay before the supervisor re-checks a
// freshly created client's connectivity.
func (Session) GetRecheckDelay() time.Duration {
	return durationEnv("RECHECK_DELAY", 3*time.Second)
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("var", key).Str("value", raw).Err(err).Msg("invalid duration, using default")
		return fallback
	}
	return d
}
