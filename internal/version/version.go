// Package version reports which build of xensuspend is running.
package version

import "fmt"

// Set at build time, e.g.
//
//	go build -ldflags "-X github.com/xenpm/xensuspend/internal/version.Version=1.2.0 \
//	  -X github.com/xenpm/xensuspend/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// ShortCommit is Commit cut to 12 characters.
func ShortCommit() string {
	if len(Commit) > 12 {
		return Commit[:12]
	}
	return Commit
}

// String describes the build on one line.
func String() string {
	return fmt.Sprintf("xensuspend %s (commit %s, built %s)", Version, ShortCommit(), BuildDate)
}
