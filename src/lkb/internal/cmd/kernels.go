package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
	"github.com/bitswalk/lkb/src/lkb/internal/ui"
	"github.com/bitswalk/lkb/src/lkb/registry"
)

var kernelsCmd = &cobra.Command{
	Use:     "kernels",
	Aliases: []string{"k", "manage"},
	Short:   "Manage installed kernels",
	Long: `Lists, renames and deletes installed kernels found in the boot loader
configuration. The distribution's default kernel files are protected.

Without a subcommand an interactive menu is shown.`,
	Args: cobra.NoArgs,
	RunE: runManage,
}

var kernelsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed kernels",
	Args:    cobra.NoArgs,
	RunE:    runKernelsList,
}

var kernelsRenameCmd = &cobra.Command{
	Use:   "rename [label] [new-label]",
	Short: "Rename an installed kernel",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runKernelsRename,
}

var kernelsDeleteCmd = &cobra.Command{
	Use:     "delete [label]",
	Aliases: []string{"rm"},
	Short:   "Delete an installed kernel",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runKernelsDelete,
}

func init() {
	kernelsCmd.AddCommand(kernelsListCmd)
	kernelsCmd.AddCommand(kernelsRenameCmd)
	kernelsCmd.AddCommand(kernelsDeleteCmd)
}

func runKernelsList(cmd *cobra.Command, args []string) error {
	entries, err := newRegistry().List()
	if err != nil {
		return err
	}
	return printEntries(entries)
}

func printEntries(entries []registry.Entry) error {
	return output.Print(getOutputFormat(), entries, func() {
		if len(entries) == 0 {
			output.PrintMessage("No installed kernels found.")
			return
		}
		rows := make([][]string, len(entries))
		for i, e := range entries {
			protected := ""
			if e.Protected {
				protected = "yes"
			}
			image := e.InitramfsPath
			if image == "" {
				image = e.InitrdPath
			}
			rows[i] = []string{fmt.Sprintf("%d", i+1), e.Label, e.VmlinuzPath, image, protected}
		}
		output.PrintTable([]string{"#", "LABEL", "VMLINUZ", "INITRAMFS", "PROTECTED"}, rows)
	})
}

func runKernelsRename(cmd *cobra.Command, args []string) error {
	return renameKernel(newPrompter(), args)
}

func renameKernel(p *Prompter, args []string) error {
	reg := newRegistry()

	label, newLabel := argAt(args, 0), argAt(args, 1)
	if label == "" {
		e, err := pickEntry(reg, p, "Select the kernel to rename")
		if err != nil {
			return err
		}
		label = e.Label
	}
	if newLabel == "" {
		var err error
		if newLabel, err = p.Ask(fmt.Sprintf("Enter the new name for %s", label), ""); err != nil {
			return err
		}
	}

	if err := reg.Rename(label, newLabel); err != nil {
		return err
	}

	result := map[string]string{"label": label, "new_label": newLabel}
	return output.Print(getOutputFormat(), result, func() {
		output.PrintMessage(ui.Success(fmt.Sprintf("Renamed %s to %s.", label, newLabel)))
	})
}

func runKernelsDelete(cmd *cobra.Command, args []string) error {
	return deleteKernel(newPrompter(), args)
}

func deleteKernel(p *Prompter, args []string) error {
	reg := newRegistry()

	label := argAt(args, 0)
	if label == "" {
		e, err := pickEntry(reg, p, "Select the kernel to delete")
		if err != nil {
			return err
		}
		label = e.Label
	}

	report, err := reg.Delete(label, func(e registry.Entry) (bool, error) {
		return p.Confirm(fmt.Sprintf("Are you sure you want to delete %s?", e.Label), false)
	})
	if err != nil {
		return err
	}

	return output.Print(getOutputFormat(), report, func() {
		rows := make([][]string, len(report.Files))
		for i, f := range report.Files {
			result := "deleted"
			if !f.Removed {
				result = f.Error
			}
			rows[i] = []string{f.Path, result}
		}
		output.PrintTable([]string{"FILE", "RESULT"}, rows)
	})
}

func runManage(cmd *cobra.Command, args []string) error {
	return manageKernels(newPrompter())
}

// manageKernels is the interactive management menu
func manageKernels(p *Prompter) error {
	if err := p.require("The kernel management menu"); err != nil {
		return err
	}

	entries, err := newRegistry().List()
	if err != nil {
		return err
	}
	if err := printEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	idx, err := p.Choose("Manage kernels", []string{"Rename a kernel", "Delete a kernel"})
	if err != nil {
		return err
	}
	if idx == 0 {
		return renameKernel(p, nil)
	}
	return deleteKernel(p, nil)
}

// pickEntry lets the operator choose an unprotected entry by number
func pickEntry(reg *registry.Registry, p *Prompter, title string) (registry.Entry, error) {
	if err := p.require("Kernel selection"); err != nil {
		return registry.Entry{}, err
	}
	entries, err := reg.List()
	if err != nil {
		return registry.Entry{}, err
	}
	if len(entries) == 0 {
		return registry.Entry{}, errors.ErrNotFound.WithMessage("No installed kernels found")
	}

	choices := make([]string, len(entries))
	for i, e := range entries {
		choices[i] = e.Label
		if e.Protected {
			choices[i] += " " + ui.Faint("(protected)")
		}
	}
	idx, err := p.Choose(title, choices)
	if err != nil {
		return registry.Entry{}, err
	}
	return entries[idx], nil
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
