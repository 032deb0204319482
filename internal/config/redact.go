package config

import "net/url"

const secretMask = "***"

// RedactedURL returns the database URL with any password masked, for
// startup logging. Opaque strings (sqlite paths) pass through.
func (c *Config) RedactedURL() string {
	u, err := url.Parse(c.Database.URL)
	if err != nil || u.User == nil {
		return c.Database.URL
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), secretMask)
	}
	return u.String()
}
