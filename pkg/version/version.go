// Package version holds build identification.
package version

// Version is the current version of translate-hub. It is overridden at
// build time with -ldflags "-X translate-hub/pkg/version.Version=...".
var Version = "0.3.0"

// Name is the product name used in protocol headers
const Name = "translate-hub"

// UserAgent returns the User-Agent string for SIP and HTTP requests
func UserAgent() string {
	return Name + "/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return Name + "/" + Version
}
