package domain

import "time"

// Credentials is the bearer token pair issued at login. Each token is
// an opaque string with a server-defined expiry; the access token is
// attached to every outbound request, the refresh token is exchanged
// only during refresh.
type Credentials struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RefreshUsable reports whether the refresh token is present and not
// past its stored expiry.
func (c *Credentials) RefreshUsable(now time.Time) bool {
	return c.RefreshToken != "" && now.Before(c.RefreshExpiresAt)
}
