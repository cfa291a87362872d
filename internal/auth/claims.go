package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded identity-provider access token.
type Claims struct {
	IdentityProvider  string `json:"identity_provider,omitempty"`
	IDIRUsername      string `json:"idir_username,omitempty"`
	BCeIDUsername     string `json:"bceid_username,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// UserIdentifier returns the login name the system user is keyed on.
func (c Claims) UserIdentifier() string {
	for _, v := range []string{c.IDIRUsername, c.BCeIDUsername} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	name, _, _ := strings.Cut(strings.TrimSpace(c.PreferredUsername), "@")
	return name
}

// IdentitySource maps the identity_provider claim (or the preferred_username
// suffix) onto a stored identity source. Unknown providers yield "".
func (c Claims) IdentitySource() string {
	provider := strings.TrimSpace(c.IdentityProvider)
	if provider == "" {
		if _, suffix, ok := strings.Cut(c.PreferredUsername, "@"); ok {
			provider = suffix
		}
	}
	switch strings.ToLower(provider) {
	case "idir":
		return IdentitySourceIDIR
	case "bceidbasic":
		return IdentitySourceBCeIDBasic
	case "bceidbusiness":
		return IdentitySourceBCeIDBusiness
	case "system":
		return IdentitySourceSystem
	case "database":
		return IdentitySourceDatabase
	default:
		return ""
	}
}

// Identity returns the (identifier, source) pair or ErrMissingIdentity.
func (c Claims) Identity() (string, string, error) {
	identifier := c.UserIdentifier()
	source := c.IdentitySource()
	if identifier == "" || source == "" {
		return "", "", ErrMissingIdentity
	}
	return identifier, source, nil
}
