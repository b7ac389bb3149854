package app

import "sync/atomic"

// Version is the version of the modbot packages.
const Version = "0.1.0"

var appVersion atomic.Value

// AppVersion is the version of the binary embedding modbot. It defaults to
// Version.
func AppVersion() string {
	if v, ok := appVersion.Load().(string); ok && v != "" {
		return v
	}
	return Version
}

// SetAppVersion overrides the reported application version, typically from
// a -ldflags build variable.
func SetAppVersion(v string) {
	appVersion.Store(v)
}
