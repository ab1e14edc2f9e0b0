package build

import "time"

// set at build time with -ldflags "-X go.sia.tech/minty/build.version=..."
var (
	version   = "devel"
	commit    = "unknown"
	buildTime = "0"
)

// Version returns the version of minty.
func Version() string {
	return version
}

// Commit returns the commit hash minty was built from.
func Commit() string {
	return commit
}

// Time returns the time minty was built.
func Time() time.Time {
	t, err := time.Parse(time.RFC3339, buildTime)
	if err != nil {
		return time.Unix(0, 0)
	}
	return t
}
