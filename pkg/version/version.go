package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information. These variables are set at build time using ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Protocol is the wire framing revision spoken by this build. Peers with a
// different revision cannot exchange frames.
const Protocol = 1

// Info contains version information.
type Info struct {
	Version   string `json:"version"`
	Protocol  int    `json:"protocol"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the version information. When the binary was built
// without ldflags the VCS stamp from the Go toolchain is used instead.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Protocol:  Protocol,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.GitCommit == "unknown":
				info.GitCommit = s.Value
			case s.Key == "vcs.time" && info.BuildTime == "unknown":
				info.BuildTime = s.Value
			}
		}
	}

	return info
}

// String returns the version string.
func (i Info) String() string {
	return fmt.Sprintf("netsync %s (protocol: v%d, commit: %s, built: %s, go: %s, os/arch: %s/%s)",
		i.Version, i.Protocol, i.GitCommit, i.BuildTime, i.GoVersion, i.OS, i.Arch)
}

// Short returns a short version string.
func (i Info) Short() string {
	return fmt.Sprintf("netsync %s", i.Version)
}
