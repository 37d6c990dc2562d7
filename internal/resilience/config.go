package resilience

import (
	"time"
)

// FromRetrySettings converts the extract retry settings to a RetryConfig.
// retryCount is the number of extra attempts after the first; backoffMs is
// the delay before the first retry, doubling after each.
func FromRetrySettings(retryCount, backoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = max(retryCount, 0) + 1
	if backoffMs > 0 {
		cfg.InitialBackoff = time.Duration(backoffMs) * time.Millisecond
		cfg.MaxBackoff = 16 * cfg.InitialBackoff
	}
	cfg.JitterFraction = 0.1
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
