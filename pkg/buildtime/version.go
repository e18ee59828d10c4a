package buildtime

import (
	"runtime/debug"
	"sync"
)

// set with -ldflags "-X github.com/opst/assetgraph/pkg/buildtime.version=v1.0.0 ..."
var (
	version  = "dev"
	revision = ""
)

var fromBuildInfo = sync.OnceFunc(func() {
	if revision != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			revision = s.Value
		}
	}
})

// version string when this assetgraph has been built.
func VERSION() string {
	return version
}

// git commit this assetgraph has been built from. "unknown" if not recorded.
func GIT_REVISION() string {
	fromBuildInfo()
	if revision == "" {
		return "unknown"
	}
	return revision
}

func VersionString() string {
	return VERSION() + " (commit: " + GIT_REVISION() + ")"
}
