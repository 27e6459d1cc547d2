// Package errors defines the error taxonomy shared by the gpd packages.
// Fatal conditions (configuration, authentication, manifest) are returned
// to the caller; per-file conditions (transport, digest) are carried inside
// download and verification outcomes. All values are sentinels intended to
// be matched with errors.Is.
package errors

import "fmt"

// Common error types.
var (
	// Config errors.
	// ErrConfig is the root of every configuration error; the others wrap it.
	ErrConfig            = fmt.Errorf("invalid configuration")
	ErrEmptyConfigPath   = fmt.Errorf("%w: config file path cannot be empty", ErrConfig)
	ErrConfigNotFound    = fmt.Errorf("%w: config file not found", ErrConfig)
	ErrConfigParse       = fmt.Errorf("%w: failed to parse config", ErrConfig)
	ErrMissingCredential = fmt.Errorf("%w: username and password are required", ErrConfig)
	ErrConfigFileExists  = fmt.Errorf("configuration file already exists (use --force to overwrite)")

	// Authentication errors.
	ErrAuthentication = fmt.Errorf("authentication failed")

	// Manifest errors.
	ErrManifestParse = fmt.Errorf("failed to parse manifest")
	ErrInvalidFilter = fmt.Errorf("%w: invalid descriptor filter", ErrManifestParse)

	// Per-file errors.
	ErrTransport      = fmt.Errorf("transport failed")
	ErrDigestMismatch = fmt.Errorf("digest mismatch")
	ErrDigestRead     = fmt.Errorf("failed to read file for digest")
	ErrNotFetched     = fmt.Errorf("file was not fetched")

	ErrInvalidPath = fmt.Errorf("invalid path")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ErrConfigWithDetails creates a configuration error naming the offending setting.
func ErrConfigWithDetails(setting string, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrConfig, setting, reason)
}

// ErrTransportWithStatus creates a transport error for an unexpected HTTP status.
func ErrTransportWithStatus(code int) error {
	return fmt.Errorf("%w: unexpected status code: %d", ErrTransport, code)
}

// ErrDigestMismatchWithDetails creates a digest error carrying both checksums.
func ErrDigestMismatchWithDetails(path, want, got string) error {
	return fmt.Errorf("%w: %s: expected %s, got %s", ErrDigestMismatch, path, want, got)
}

// ErrManifestParseWithDetails creates a manifest error with positional context.
func ErrManifestParseWithDetails(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrManifestParse, fmt.Sprintf(format, args...))
}
