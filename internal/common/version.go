package common

// Version is the application version, overridden at build time via
// -ldflags "-X github.com/ternarybob/wrapline/internal/common.Version=..."
var Version = "0.1.0-dev"

// GetVersion returns the current application version
func GetVersion() string {
	return Version
}
