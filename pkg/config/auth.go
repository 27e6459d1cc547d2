package config

import "github.com/brwnj/gpd/pkg/auth"

// PortalAuth holds the portal sign-on credentials.
type PortalAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ToCredentials converts the configured credentials for the authenticator.
func (p PortalAuth) ToCredentials() auth.Credentials {
	return auth.Credentials{
		Username: p.Username,
		Password: p.Password,
	}
}

// String hides the password when the configuration is printed.
func (p PortalAuth) String() string {
	if p.Password == "" {
		return p.Username
	}
	return p.Username + ":****"
}
