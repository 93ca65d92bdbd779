// Package version exposes build metadata for the chathub binary.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Overridable at build time with -ldflags "-X".
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

var readBuildInfo sync.Once

// GetInfo returns "<version> (<short commit>)", reading VCS data from the
// embedded build info when ldflags did not provide it.
func GetInfo() string {
	readBuildInfo.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	})

	if CommitHash == "" {
		return Version
	}
	short := CommitHash
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}
