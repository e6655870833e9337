package resilience

import "time"

// Circuit breaker configuration constants
const (
	// Default configuration
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Gateway configuration (the transcription service): open quickly so a
	// dead service does not stall the segmentation loop on every utterance.
	GatewayThreshold         = 3
	GatewayResetTimeout      = 15 * time.Second
	GatewayHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// GatewayConfig returns settings for the transcription gateway.
func GatewayConfig() Config {
	return Config{
		Threshold:         GatewayThreshold,
		ResetTimeout:      GatewayResetTimeout,
		HalfOpenSuccesses: GatewayHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
