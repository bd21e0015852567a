package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

func init() {
	buildInfo = moduleBuildInfo
}

// moduleBuildInfo lists the main module followed by one "path@version"
// line per dependency, showing the replacement when there is one.
func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}

	var sb strings.Builder
	main := info.Main.Path
	if main == "" {
		main = info.Path
	}
	fmt.Fprintf(&sb, "module %s", main)
	if info.Main.Version != "" {
		fmt.Fprintf(&sb, "@%s", info.Main.Version)
	}
	sb.WriteByte('\n')
	for _, dep := range info.Deps {
		fmt.Fprintf(&sb, "  %s@%s", dep.Path, dep.Version)
		if r := dep.Replace; r != nil {
			fmt.Fprintf(&sb, " => %s@%s", r.Path, r.Version)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
