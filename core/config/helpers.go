package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetAllSettings returns the non-secret settings currently loaded in memory.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"app_debug":                 Global.App.Debug,
		"app_version":               Global.App.Version,
		"gateway_base_url":          Global.Gateway.BaseURL,
		"gateway_timeout":           Global.Gateway.Timeout.String(),
		"breaker_window":            Global.Breaker.Window.String(),
		"breaker_max_requests":      Global.Breaker.MaxRequests,
		"breaker_failure_threshold": Global.Breaker.FailureThreshold,
		"breaker_cooldown":          Global.Breaker.Cooldown.String(),
		"webhook_dedup_ttl":         Global.Webhook.DedupTTL.String(),
		"valkey_enabled":            Global.Database.ValkeyEnabled,
	}
}

// Helpers
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}
