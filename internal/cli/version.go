package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/mesh-intelligence/depot"

// Version is the release version, set at build time with
// -ldflags "-X github.com/mesh-intelligence/depot/internal/cli.Version=...".
var Version = "dev"

// buildVersion prefers the linker-provided version and falls back to the
// module version recorded by go install.
func buildVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the depot version",
		Args:  argsRange(0, 0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "depot %s\nmodule: %s\n", buildVersion(), modulePath)
			return nil
		},
	}
}
