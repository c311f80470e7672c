package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bitswalk/lkb/src/lkb/internal/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	return output.Print(getOutputFormat(), VersionInfo.Map(), func() {
		output.PrintMessage(VersionInfo.Full())
	})
}
