// Package version reports build metadata for the wofinder binary. Release
// builds set the variables below with -ldflags "-X"; other builds fall back
// to the VCS stamp the go command embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set by the release build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Build is the resolved metadata of the running binary.
type Build struct {
	Version  string
	Commit   string
	Date     string
	Modified bool
}

var readBuildInfo = debug.ReadBuildInfo

var current = sync.OnceValue(func() Build { return resolve(readBuildInfo) })

// resolve fills whatever ldflags left at its default from the embedded
// build info.
func resolve(read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: Version, Commit: GitCommit, Date: BuildDate}
	info, ok := read()
	if !ok {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = s.Value
				if len(b.Commit) > 12 {
					b.Commit = b.Commit[:12]
				}
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

// Get returns the metadata of the running binary.
func Get() Build { return current() }

// Info returns the one-line `wofinder version` output.
func Info() string {
	b := Get()
	commit := b.Commit
	if b.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("wofinder %s (commit %s, built %s, %s %s/%s)",
		b.Version, commit, b.Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns the bare version, as sent in the X-Wofinder-Version header.
func Short() string { return Get().Version }

// Map is the version block of GET /api/v1/health.
func Map() map[string]string {
	b := Get()
	return map[string]string{
		"version":    b.Version,
		"git_commit": b.Commit,
		"build_date": b.Date,
		"modified":   fmt.Sprint(b.Modified),
		"go_version": runtime.Version(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
