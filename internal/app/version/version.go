package version

import (
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X privacyspace/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	BuiltAt   string `json:"built_at"`
	Revision  string `json:"revision,omitempty"`
	GoVersion string `json:"go_version"`
}

func BuildVersion() string {
	return buildVersion
}

// Get reports the linker supplied version plus the vcs revision the Go
// toolchain stamped into the binary, if any.
func Get() Info {
	info := Info{
		Version:   buildVersion,
		BuiltAt:   builtAt,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				info.Revision = s.Value
			}
		}
	}
	return info
}
