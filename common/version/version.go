// Package version holds build metadata injected with -ldflags:
//
//	-X github.com/botoralo/botworker/common/version.Version=v1.2.0
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns "<version> (<commit>) built at <time>".
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
