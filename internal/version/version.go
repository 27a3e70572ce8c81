package version

import (
	"fmt"

	"github.com/openmediakit/msclient"
)

// Overridable at build time with -ldflags "-X ...".
var (
	Version = msclient.Version
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

func Short() string {
	return Version
}
