// Package buildinfo carries the version stamped with
// -ldflags "-X drtdispatch/internal/buildinfo.Version=...".
package buildinfo

import "runtime/debug"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info returns the stamped values, falling back to the VCS settings the Go
// toolchain embeds when nothing was stamped.
func Info() map[string]string {
	info := map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
	if Commit != "" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["go"] = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info["commit"] = s.Value
			case "vcs.time":
				if BuiltAt == "" {
					info["builtAt"] = s.Value
				}
			}
		}
	}
	return info
}
