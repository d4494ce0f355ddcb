package purpose

import "time"

const (
	defaultEmailVerificationTTL = 30 * time.Minute
	defaultPasswordResetTTL     = 15 * time.Minute
)

// Config controls purpose token lifetimes.
//
// Lifetimes are minutes, not the session lifetime, so a leaked link has a
// short useful window.
type Config struct {
	EmailVerificationTTL time.Duration `env:"PARLEY_EMAIL_VERIFICATION_TTL" envDefault:"30m"`
	PasswordResetTTL     time.Duration `env:"PARLEY_PASSWORD_RESET_TTL"     envDefault:"15m"`
}

// Normalized returns cfg with defaults applied to unset lifetimes.
func (c Config) Normalized() Config {
	if c.EmailVerificationTTL <= 0 {
		c.EmailVerificationTTL = defaultEmailVerificationTTL
	}
	if c.PasswordResetTTL <= 0 {
		c.PasswordResetTTL = defaultPasswordResetTTL
	}
	return c
}

// TTL returns the lifetime for p.
func (c Config) TTL(p Purpose) time.Duration {
	switch p {
	case EmailVerification:
		return c.EmailVerificationTTL
	case PasswordReset:
		return c.PasswordResetTTL
	default:
		return 0
	}
}
