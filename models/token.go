package models

import "time"

// Environment selects which Data Connect deployment a credential belongs to.
type Environment string

const (
	// EnvironmentProduction targets the live Enedis gateway.
	EnvironmentProduction Environment = "production"
	// EnvironmentSandbox targets the Enedis test gateway.
	EnvironmentSandbox Environment = "sandbox"
)

// Token holds the access/refresh pair obtained from a code or refresh
// exchange. The refresh token is the durable credential: an expired entry is
// refreshed in place, never discarded.
type Token struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Environment  Environment `json:"environment"`
}

// IsExpired reports whether the access token has passed its expiry.
// No skew margin is applied; a token expiring one second from now is used
// as-is.
func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
