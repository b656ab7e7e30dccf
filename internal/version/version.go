package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/scrollback"

// buildVersion is set via -ldflags "-X pkt.systems/scrollback/internal/version.buildVersion=...".
var buildVersion = ""

// Build describes the running binary.
type Build struct {
	Version   string `json:"version" yaml:"version"`
	Module    string `json:"module" yaml:"module"`
	Revision  string `json:"revision,omitempty" yaml:"revision,omitempty"`
	Dirty     bool   `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Current returns the best available version string (without dirty suffix).
func Current() string {
	return resolve(readBuildInfo(), false)
}

// Info returns the full build description.
func Info() Build {
	info := readBuildInfo()
	build := Build{
		Version:   resolve(info, true),
		Module:    defaultModule,
		GoVersion: runtime.Version(),
	}
	if info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			build.Module = path
		}
		vcs := readVCS(info)
		build.Revision = vcs.revision
		build.Dirty = vcs.modified
	}
	return build
}

func readBuildInfo() *debug.BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info
}

func resolve(info *debug.BuildInfo, includeDirty bool) string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return normalizeVersion(v, includeDirty)
	}
	if info != nil {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return normalizeVersion(v, includeDirty)
		}
		if v := pseudoFromBuildInfo(info, includeDirty); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

func normalizeVersion(v string, includeDirty bool) string {
	if includeDirty {
		return v
	}
	return strings.TrimSuffix(v, "+dirty")
}

type vcsInfo struct {
	revision string
	time     string
	modified bool
}

func readVCS(info *debug.BuildInfo) vcsInfo {
	var vcs vcsInfo
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcs.revision = setting.Value
		case "vcs.time":
			vcs.time = setting.Value
		case "vcs.modified":
			vcs.modified = setting.Value == "true"
		}
	}
	return vcs
}

// pseudoFromBuildInfo derives a Go pseudo-version from VCS stamping.
func pseudoFromBuildInfo(info *debug.BuildInfo, includeDirty bool) string {
	if info == nil {
		return ""
	}
	vcs := readVCS(info)
	if vcs.revision == "" || vcs.time == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcs.time)
	if err != nil {
		return ""
	}
	rev := vcs.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + rev
	if vcs.modified && includeDirty {
		ver += "+dirty"
	}
	return ver
}
