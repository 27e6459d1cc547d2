// Package auth provides portal sign-on and authentication of download requests.
package auth

import "net/http"

// Authenticator defines the interface for applying authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request) error
	Type() Type
}

// Type represents the type of authentication.
type Type string

// Authentication types.
const (
	// SessionAuthType represents a portal session carried in cookies.
	SessionAuthType Type = "session"
	// AnonymousAuthType represents unauthenticated access.
	AnonymousAuthType Type = "anonymous"
)

// Credentials are the portal sign-on username and password.
type Credentials struct {
	Username string
	Password string
}

// Anonymous leaves requests untouched. It is used for public portals and
// offline operations that never reach the network.
type Anonymous struct{}

// Apply does nothing.
func (Anonymous) Apply(*http.Request) error { return nil }

// Type returns AnonymousAuthType.
func (Anonymous) Type() Type { return AnonymousAuthType }
