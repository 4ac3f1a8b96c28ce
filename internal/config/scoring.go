package config

import (
	"os"
	"strconv"
)

// ScoringConfig holds the fraud detector constants. These are global,
// per-deployment settings; they are not tunable per account.
type ScoringConfig struct {
	WindowSize  int     // Behavioral baseline: most recent N finalized transactions
	ZThreshold  float64 // |z| above this flags a behavioral anomaly
	MaxDriftKm  float64 // Great-circle distance above this flags geo drift
	AbsoluteEps float64 // Fallback delta when the history window has zero variance
	GeoIPCityDB string  // Optional MaxMind City database path; empty disables IP geocoding
	SenderBIC   string  // BIC used as debtor agent on settlement messages
}

// LoadScoringConfig reads scoring constants from the environment.
func LoadScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		WindowSize:  getEnvAsInt("SCORING_WINDOW_SIZE", 5),
		ZThreshold:  getEnvAsFloat("SCORING_Z_THRESHOLD", 2.5),
		MaxDriftKm:  getEnvAsFloat("SCORING_MAX_DRIFT_KM", 500),
		AbsoluteEps: getEnvAsFloat("SCORING_ABSOLUTE_EPSILON", 0.01),
		GeoIPCityDB: getEnv("GEOIP_CITY_DB", ""),
		SenderBIC:   getEnv("SETTLEMENT_SENDER_BIC", "SENTINEL"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
