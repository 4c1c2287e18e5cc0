package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chativa/chativa/internal/connectors"
)

// Overridden with -ldflags "-X github.com/chativa/chativa/cmd/chativa/cmd.Version=...".
var (
	Version   = "0.1.0"
	GitCommit = ""
	BuildDate = ""
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := readBuildInfo()
		if versionShort {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.version)
			return err
		}
		return info.write(cmd.OutOrStdout())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print the version number only")
}

type buildInfo struct {
	version, commit, date string
	dirty                 bool
}

// readBuildInfo prefers linker-set values and falls back to the VCS stamp
// the go tool embeds.
func readBuildInfo() buildInfo {
	info := buildInfo{version: Version, commit: GitCommit, date: BuildDate}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.commit == "" {
					info.commit = s.Value
				}
			case "vcs.time":
				if info.date == "" {
					info.date = s.Value
				}
			case "vcs.modified":
				info.dirty = s.Value == "true"
			}
		}
	}
	if len(info.commit) > 12 {
		info.commit = info.commit[:12]
	}
	if info.commit == "" {
		info.commit = "dev"
	}
	if info.date == "" {
		info.date = "unknown"
	}
	return info
}

func (b buildInfo) write(w io.Writer) error {
	commit := b.commit
	if b.dirty {
		commit += " (modified)"
	}
	_, err := fmt.Fprintf(w, "chativa %s\n  commit:     %s\n  built:      %s\n  go:         %s %s/%s\n  connectors: %s\n",
		b.version, commit, b.date,
		runtime.Version(), runtime.GOOS, runtime.GOARCH,
		strings.Join(connectors.Kinds(), ", "))
	return err
}
