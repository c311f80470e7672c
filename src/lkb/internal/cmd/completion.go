package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bitswalk/lkb/src/lkb/build"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
)

func registerCompletions() {
	_ = rootCmd.RegisterFlagCompletionFunc("output", completionOutputFormat)
	_ = buildCmd.RegisterFlagCompletionFunc("kconfig", completionConfigChoice)
	_ = buildCmd.RegisterFlagCompletionFunc("version", completionReleases)

	kernelsRenameCmd.ValidArgsFunction = completionKernelLabels
	kernelsDeleteCmd.ValidArgsFunction = completionKernelLabels
	historyShowCmd.ValidArgsFunction = completionRunIDs
	historyDeleteCmd.ValidArgsFunction = completionRunIDs
}

func completionOutputFormat(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{output.FormatTable, output.FormatJSON, output.FormatYAML}, cobra.ShellCompDirectiveNoFileComp
}

func completionConfigChoice(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{
		string(build.UseDefault) + "\tseed from the running system",
		string(build.FromScratch) + "\tmenuconfig on the tree defaults",
		string(build.CustomizeFromDefault) + "\tseed, then menuconfig",
	}, cobra.ShellCompDirectiveNoFileComp
}

// completionReleases completes release versions from the catalog
func completionReleases(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	releases, err := newCatalog().Releases(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	suggestions := make([]string, len(releases))
	for i, r := range releases {
		suggestions[i] = r.Version + "\t" + r.Moniker
	}
	return suggestions, cobra.ShellCompDirectiveNoFileComp
}

// completionKernelLabels completes the first argument with unprotected kernel labels
func completionKernelLabels(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	entries, err := newRegistry().List()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var suggestions []string
	for _, e := range entries {
		if !e.Protected {
			suggestions = append(suggestions, e.Label)
		}
	}
	return suggestions, cobra.ShellCompDirectiveNoFileComp
}

// completionRunIDs completes recorded build run IDs
func completionRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	repo, closeDB, err := openHistoryRepo()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer closeDB()

	runs, err := repo.List(50)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	suggestions := make([]string, len(runs))
	for i, r := range runs {
		suggestions[i] = r.ID + "\t" + r.KernelVersion + " " + string(r.Status)
	}
	return suggestions, cobra.ShellCompDirectiveNoFileComp
}
