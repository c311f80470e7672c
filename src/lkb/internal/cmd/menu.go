package cmd

import (
	"github.com/spf13/cobra"
)

// runMenu is the top-level interactive menu shown when lkb runs without a command
func runMenu(cmd *cobra.Command, args []string) error {
	p := newPrompter()
	if err := p.require("The main menu"); err != nil {
		return err
	}

	idx, err := p.Choose("Linux Kernel Builder", []string{
		"Install a new kernel",
		"Manage existing kernels",
	})
	if err != nil {
		return err
	}
	if idx == 0 {
		buildCmd.SetContext(cmd.Context())
		return buildKernel(buildCmd, p)
	}
	return manageKernels(p)
}
