// Package version exposes build-time version metadata, set via -ldflags.
package version

// These are overridden at build time with:
//
//	go build -ldflags "-X github.com/r3e-network/reactive-streams/pkg/version.Version=... \
//	  -X github.com/r3e-network/reactive-streams/pkg/version.Commit=... \
//	  -X github.com/r3e-network/reactive-streams/pkg/version.BuildDate=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns a one-line human-readable version summary.
func String() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}
