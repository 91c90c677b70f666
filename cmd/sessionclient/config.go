package sessionclient

import "time"

// Config is the client renewal policy.
type Config struct {
	// LowWaterMark is the remaining access lifetime at or below which a call
	// triggers renewal before it is sent.
	LowWaterMark time.Duration

	// RotateTimeout bounds one rotation round-trip. It must be shorter than
	// LowWaterMark so a proactive renewal finishes before the credential
	// actually expires.
	RotateTimeout time.Duration

	// FailFast makes non-terminal renewal failures fail the call instead of
	// letting it proceed with the stale credential.
	FailFast bool

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the standard policy: renew 30s before expiry with a
// 10s rotation budget.
func DefaultConfig() Config {
	return Config{
		LowWaterMark:  30 * time.Second,
		RotateTimeout: 10 * time.Second,
	}
}

// Validate reports ErrConfig for unusable settings.
func (c Config) Validate() error {
	if c.LowWaterMark <= 0 || c.RotateTimeout <= 0 {
		return ErrConfig
	}
	if c.LowWaterMark <= c.RotateTimeout {
		return ErrConfig
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
