// Package version reports build metadata. Values injected with -ldflags win;
// otherwise the VCS stamp recorded by the Go toolchain is used.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the resolved build metadata.
type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

var (
	stampOnce sync.Once
	stamp     Info
)

// Get resolves build metadata, filling gaps from the embedded VCS stamp.
func Get() Info {
	stampOnce.Do(func() {
		if bi, ok := debug.ReadBuildInfo(); ok {
			stamp = fromSettings(bi.Settings)
		}
	})
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if info.Commit == "none" && stamp.Commit != "" {
		info.Commit = stamp.Commit
		info.Modified = stamp.Modified
	}
	if info.Date == "unknown" && stamp.Date != "" {
		info.Date = stamp.Date
	}
	return info
}

func fromSettings(settings []debug.BuildSetting) Info {
	var info Info
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.Date = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// UserAgent is sent on every upstream call.
func UserAgent() string {
	return "imagegw/" + Get().Version
}

// BuildInfo returns a single-line summary for the startup log.
func BuildInfo() string {
	info := Get()
	return fmt.Sprintf("imagegw %s (commit %s, built %s, %s)",
		info.Version, info.shortCommit(), info.Date, runtime.Version())
}

// Full returns the multi-line output of -version.
func Full() string {
	info := Get()
	return fmt.Sprintf("imagegw %s\nCommit:    %s\nBuilt:     %s\nGo:        %s\nPlatform:  %s/%s",
		info.Version, info.longCommit(), info.Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func (i Info) shortCommit() string {
	c := i.Commit
	if len(c) > 7 {
		c = c[:7]
	}
	if i.Modified {
		c += "-dirty"
	}
	return c
}

func (i Info) longCommit() string {
	if i.Modified {
		return i.Commit + " (modified)"
	}
	return i.Commit
}
