package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/lkb/src/lkb/bootloader"
	"github.com/bitswalk/lkb/src/lkb/build"
	"github.com/bitswalk/lkb/src/lkb/history"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
	"github.com/bitswalk/lkb/src/lkb/internal/ui"
	"github.com/bitswalk/lkb/src/lkb/metrics"
	"github.com/bitswalk/lkb/src/lkb/release"
	"github.com/bitswalk/lkb/src/lkb/runner"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"install"},
	Short:   "Build and install a kernel",
	Long: `Builds the selected kernel release and installs it.

Options missing from the command line are asked interactively. Without a
terminal, --version is required and --yes accepts the defaults for the rest.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().String("version", "", "Kernel release to build (e.g. 6.10.3); prompts when empty")
	buildCmd.Flags().String("kconfig", "", "Kernel configuration: default, scratch or custom")
	buildCmd.Flags().String("patch", "", "Patch file or directory holding *.patch files to apply")
	buildCmd.Flags().Bool("no-patch", false, "Do not apply a patch and do not ask")
	buildCmd.Flags().Bool("disable-signing-keys", false, "Clear the trusted and revocation key options")
	buildCmd.Flags().Int("jobs", 0, "Parallel make jobs (default: number of CPUs)")
	buildCmd.Flags().String("base-dir", "", "Directory holding the tarball and source tree")
	buildCmd.Flags().String("boot-dir", "", "Directory the kernel is installed to")
	buildCmd.Flags().Bool("install-prereqs", false, "Install the distribution's build dependencies first")

	buildCmd.MarkFlagsMutuallyExclusive("patch", "no-patch")

	_ = viper.BindPFlag("build.jobs", buildCmd.Flags().Lookup("jobs"))
	_ = viper.BindPFlag("build.base_dir", buildCmd.Flags().Lookup("base-dir"))
	_ = viper.BindPFlag("build.boot_dir", buildCmd.Flags().Lookup("boot-dir"))
	_ = viper.BindPFlag("build.install_prerequisites", buildCmd.Flags().Lookup("install-prereqs"))
	_ = viper.BindPFlag("build.config", buildCmd.Flags().Lookup("kconfig"))
	_ = viper.BindPFlag("build.disable_signing_keys", buildCmd.Flags().Lookup("disable-signing-keys"))
}

// buildSummary is the structured result of a build
type buildSummary struct {
	ID       string               `json:"id" yaml:"id"`
	Version  string               `json:"version" yaml:"version"`
	Stages   []build.StageOutcome `json:"stages" yaml:"stages"`
	Error    string               `json:"error,omitempty" yaml:"error,omitempty"`
	Duration string               `json:"duration" yaml:"duration"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	return buildKernel(cmd, newPrompter())
}

// buildKernel runs the full build, asking p for anything the flags leave open
func buildKernel(cmd *cobra.Command, p *Prompter) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := detectDistro()
	if err != nil {
		return err
	}
	log.Info("Distribution", "name", d.String())

	want, _ := cmd.Flags().GetString("version")
	if want == "" && !p.Interactive() && !p.assumeYes {
		return p.require("Kernel version selection")
	}
	version, err := build.SelectVersion(ctx, newCatalog(), want, chooseRelease(p))
	if err != nil {
		return err
	}

	base, err := baseDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return fmt.Errorf("failed to create build directory %s: %w", base, err)
	}

	bc := build.NewBuildContext(version, base, bootDir())
	bc.Debug = debug
	bc.Jobs = jobs()
	if err := buildOptions(cmd, p, bc); err != nil {
		return err
	}

	r := newRunner()
	if viper.GetBool("build.install_prerequisites") {
		if err := build.InstallPrerequisites(ctx, r, d); err != nil {
			return err
		}
	}

	fetcher, err := newDownloader()
	if err != nil {
		return err
	}
	cache, err := newCache(ctx)
	if err != nil {
		return err
	}

	var compileOutput io.Writer
	if debug {
		compileOutput = os.Stderr
	}
	stages := build.DefaultStages(build.Deps{
		Runner:        r,
		Fetcher:       fetcher,
		Artifacts:     build.NewFSArtifactStore(base),
		Cache:         cache,
		SourceBaseURL: viper.GetString("download.base_url"),
		Distro:        d,
		Bootloader:    bootloader.NewDetector(r, bootloaderConfig()),
		Terminal:      build.Terminal{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr},
		CompileOutput: compileOutput,
		CompileRunner: newRunner(runner.WithoutCapture()),
	})

	progress := ui.NewProgress(output.Stderr, stderrIsTerminal())
	opts := []build.PipelineOption{
		build.WithPolicy(newPolicy()),
		build.WithProgress(func(stage build.StageName, percent int, message string) {
			progress.Update(string(stage), percent, message)
		}),
	}

	hdb, err := openHistory()
	if err != nil {
		log.Warn("Build history unavailable", "error", err)
	} else if hdb != nil {
		defer hdb.Close()
		opts = append(opts, build.WithObserver(history.NewRecorder(history.NewRunRepository(hdb))))
	}
	if textfile := viper.GetString("metrics.textfile"); textfile != "" {
		opts = append(opts, build.WithObserver(metrics.NewProm(textfile)))
	}

	start := time.Now()
	runErr := build.NewPipeline(stages, opts...).Run(ctx, bc)
	progress.Done()

	summary := buildSummary{
		ID:       bc.ID,
		Version:  version.Version,
		Stages:   bc.Outcomes(),
		Duration: time.Since(start).Round(time.Second).String(),
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := printBuildSummary(summary); err != nil {
		return err
	}
	return runErr
}

// chooseRelease prompts for a release; with --yes and no terminal the
// latest stable release is taken
func chooseRelease(p *Prompter) build.ChooseFunc {
	if !p.Interactive() {
		return nil
	}
	return func(releases []release.KernelVersion) (release.KernelVersion, error) {
		choices := make([]string, len(releases))
		for i, r := range releases {
			choices[i] = releaseLabel(r)
		}
		idx, err := p.Choose("Available Linux kernel versions", choices)
		if err != nil {
			return release.KernelVersion{}, err
		}
		return releases[idx], nil
	}
}

func releaseLabel(r release.KernelVersion) string {
	label := r.Version
	if r.Moniker != "" {
		label += " (" + r.Moniker + ")"
	}
	if r.ReleaseDate != "" {
		label += " " + r.ReleaseDate
	}
	if r.IsEOL {
		label += " [EOL]"
	}
	return label
}

// buildOptions fills the operator choices from flags, configuration or prompts
func buildOptions(cmd *cobra.Command, p *Prompter, bc *build.BuildContext) error {
	ask := p.Interactive() && !p.assumeYes

	choice := viper.GetString("build.config")
	if ask && !cmd.Flags().Changed("kconfig") {
		idx, err := p.Choose("Configuration options", []string{
			"Use default configuration",
			"Choose configuration from scratch",
			"Customize from default configuration",
		})
		if err != nil {
			return err
		}
		choice = string([]build.ConfigChoice{build.UseDefault, build.FromScratch, build.CustomizeFromDefault}[idx])
	}
	cc, err := build.ParseConfigChoice(choice)
	if err != nil {
		return err
	}
	bc.ConfigChoice = cc

	noPatch, _ := cmd.Flags().GetBool("no-patch")
	patchPath, _ := cmd.Flags().GetString("patch")
	switch {
	case noPatch:
	case patchPath != "":
		bc.ApplyPatch = true
		bc.PatchPath = patchPath
	case ask:
		if bc.ApplyPatch, err = p.Confirm("Do you have a patch file to apply?", false); err != nil {
			return err
		}
		if bc.ApplyPatch {
			inBase, err := p.Confirm(fmt.Sprintf("Is the patch file in %s?", bc.BaseDirectory), true)
			if err != nil {
				return err
			}
			if !inBase {
				if bc.PatchPath, err = p.Ask("Enter the directory containing the patch file", ""); err != nil {
					return err
				}
			}
		}
	}

	bc.DisableSigningKeys = viper.GetBool("build.disable_signing_keys")
	if ask && !cmd.Flags().Changed("disable-signing-keys") {
		if bc.DisableSigningKeys, err = p.Confirm("Do you want to disable the secure boot signing keys?", false); err != nil {
			return err
		}
	}
	return nil
}

func printBuildSummary(s buildSummary) error {
	return output.Print(getOutputFormat(), s, func() {
		rows := make([][]string, len(s.Stages))
		for i, o := range s.Stages {
			rows[i] = []string{string(o.Stage), string(o.Status), o.Duration.Round(time.Millisecond).String(), o.Detail}
		}
		output.PrintTable([]string{"STAGE", "STATUS", "DURATION", "DETAIL"}, rows)
		if s.Error == "" {
			output.PrintMessage(ui.Success(fmt.Sprintf("Kernel %s installed (build %s, %s).", s.Version, s.ID, s.Duration)))
		}
	})
}
