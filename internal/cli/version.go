package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "msc version %s\n", version.Full())
	},
}
