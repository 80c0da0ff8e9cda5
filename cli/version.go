package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowline.dev/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build and dependency version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.GetBuildInfo()
		fmt.Printf("orchctl %s (go %s)\n", version.GetCoreVersion(), info.GoVersion)
		for _, dep := range info.Dependencies {
			fmt.Printf("  %s %s\n", dep.Path, dep.Version)
		}
	},
}
