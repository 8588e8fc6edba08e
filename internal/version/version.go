// Package version reports which msgrouter build is running.
//
// Release builds stamp the variables with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/msgrouter/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/msgrouter/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/msgrouter/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Unstamped builds fall back to the VCS settings the go tool embeds.
package version

import (
	"runtime/debug"
	"sync"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shortCommit = 12

// Info is the resolved build identity.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	infoOnce sync.Once
	info     Info
)

// Get returns the build identity, preferring ldflags over embedded build info.
func Get() Info {
	infoOnce.Do(func() {
		bi, _ := debug.ReadBuildInfo()
		info = resolve(bi)
	})
	return info
}

func resolve(bi *debug.BuildInfo) Info {
	i := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
	if bi == nil {
		return i
	}
	i.GoVersion = bi.GoVersion
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "unknown" {
				i.Commit = s.Value
				if len(i.Commit) > shortCommit {
					i.Commit = i.Commit[:shortCommit]
				}
			}
		case "vcs.time":
			if i.BuildTime == "unknown" {
				i.BuildTime = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
	return i
}

// String formats the build identity for --version output.
func String() string {
	i := Get()
	s := i.Version + " (" + i.Commit
	if i.Modified {
		s += ", modified"
	}
	return s + ") built " + i.BuildTime
}

// Attrs returns the build identity as slog key/value pairs.
func Attrs() []any {
	i := Get()
	return []any{
		"version", i.Version,
		"commit", i.Commit,
		"build_time", i.BuildTime,
		"go_version", i.GoVersion,
	}
}
