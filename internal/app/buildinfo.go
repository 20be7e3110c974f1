package app

import (
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Set through -ldflags "-X github.com/skobkin/xaescope/internal/app.Version=..." in release builds.
var (
	Version   = ""
	BuildDate = ""
)

// Build describes the running binary.
type Build struct {
	Version string
	Date    string
}

// CurrentBuild resolves the version from ldflags, falling back to the module
// version recorded by "go install" and finally to "dev".
func CurrentBuild() Build {
	raw := strings.TrimSpace(Version)
	if raw == "" {
		raw = moduleVersion()
	}

	return Build{Version: normalizeVersion(raw), Date: dateOnly(BuildDate)}
}

// Release is true for semver versions without a prerelease part.
func (b Build) Release() bool {
	return semver.IsValid(b.Version) && semver.Prerelease(b.Version) == ""
}

func (b Build) String() string {
	if b.Date == "" {
		return b.Version
	}

	return b.Version + " (" + b.Date + ")"
}

func moduleVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "(devel)" {
		return ""
	}

	return info.Main.Version
}

// normalizeVersion turns "1.2" into "v1.2.0" and keeps build metadata.
// Anything that is not semver, e.g. a commit hash, is returned unchanged.
func normalizeVersion(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "dev"
	}

	v := raw
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return raw
	}

	return semver.Canonical(v) + semver.Build(v)
}

func dateOnly(raw string) string {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC().Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		if _, err := time.Parse(time.DateOnly, raw[:len(time.DateOnly)]); err == nil {
			return raw[:len(time.DateOnly)]
		}
	}

	return raw
}
