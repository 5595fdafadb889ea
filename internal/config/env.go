package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "PAN115_CONFIG"
	EnvClientID     = "PAN115_CLIENT_ID"
	EnvClientSecret = "PAN115_CLIENT_SECRET"
	EnvRedirectURI  = "PAN115_REDIRECT_URI"
	EnvOAuthURL     = "PAN115_OAUTH_URL"
	EnvAPIURL       = "PAN115_API_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // PAN115_CONFIG: override config file path
	ClientID     string // PAN115_CLIENT_ID
	ClientSecret string // PAN115_CLIENT_SECRET
	RedirectURI  string // PAN115_REDIRECT_URI
	OAuthURL     string // PAN115_OAUTH_URL
	APIURL       string // PAN115_API_URL
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		RedirectURI:  os.Getenv(EnvRedirectURI),
		OAuthURL:     os.Getenv(EnvOAuthURL),
		APIURL:       os.Getenv(EnvAPIURL),
	}
}

// ApplyEnvOverrides copies set environment values onto cfg.
func ApplyEnvOverrides(cfg *Config, env EnvOverrides) {
	if env.ClientID != "" {
		cfg.Auth.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.Auth.ClientSecret = env.ClientSecret
	}

	if env.RedirectURI != "" {
		cfg.Auth.RedirectURI = env.RedirectURI
	}

	if env.OAuthURL != "" {
		cfg.Auth.OAuthURL = env.OAuthURL
	}

	if env.APIURL != "" {
		cfg.Auth.APIURL = env.APIURL
	}
}
