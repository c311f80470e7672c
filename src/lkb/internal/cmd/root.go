// Package cmd implements the lkb command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/lkb/src/common/cli"
	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/common/logs"
	"github.com/bitswalk/lkb/src/common/version"
	"github.com/bitswalk/lkb/src/lkb/bootloader"
	"github.com/bitswalk/lkb/src/lkb/build"
	"github.com/bitswalk/lkb/src/lkb/distro"
	"github.com/bitswalk/lkb/src/lkb/download"
	"github.com/bitswalk/lkb/src/lkb/history"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
	"github.com/bitswalk/lkb/src/lkb/metrics"
	"github.com/bitswalk/lkb/src/lkb/registry"
	"github.com/bitswalk/lkb/src/lkb/release"
	"github.com/bitswalk/lkb/src/lkb/runner"
	"github.com/bitswalk/lkb/src/lkb/storage"
)

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()

	// Configuration file path
	cfgFile string

	// Output format (table, json or yaml)
	outputFormat string

	// debug forces the debug log level and streams make output
	debug bool

	// assumeYes answers every confirmation with yes
	assumeYes bool

	log = logs.NewDefault()
)

// Linker variables - set via ldflags at build time
var (
	Version        = "dev"
	ReleaseVersion = "0.0.0"
	BuildDate      = "unknown"
	GitCommit      = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "lkb",
	Short: "Linux Kernel Builder",
	Long: `lkb builds and installs a Linux kernel from kernel.org sources.

It downloads and extracts the selected release, optionally applies a patch,
configures, compiles and installs the kernel, generates the initramfs and
refreshes the boot loader. The kernels command lists, renames and deletes
installed kernels.

Run without a command for the interactive menu.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !output.ValidFormat(outputFormat) {
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
		}
		if err := initConfig(); err != nil {
			return err
		}
		initLogging()
		return nil
	},
	RunE: runMenu,
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	VersionInfo.Version = fmt.Sprintf("lkb %s", Version)
	VersionInfo.ReleaseVersion = ReleaseVersion
	VersionInfo.BuildDate = BuildDate
	VersionInfo.GitCommit = GitCommit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(err)
	}
	return errors.GetExitCode(err)
}

// reportError prints the error that ended the command
func reportError(err error) {
	if errors.Is(err, errors.ErrCancelled) {
		output.PrintMessage("Operation cancelled.")
		return
	}
	switch outputFormat {
	case output.FormatJSON, output.FormatYAML:
		_ = output.Print(outputFormat, errors.NewReport(err), func() {})
	default:
		output.PrintError(err)
	}
}

func init() {
	cli.RegisterConfigFlag(rootCmd, &cfgFile, "/etc/lkb/lkb.yaml or ~/.config/lkb/lkb.yaml")

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", output.FormatTable, "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging and show build tool output")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to confirmations and accept defaults without prompting")

	cli.RegisterLogFlags(rootCmd)
	setDefaults()

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(releasesCmd)
	rootCmd.AddCommand(kernelsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cacheCmd)

	registerCompletions()
}

// setDefaults registers every configuration key with its default
func setDefaults() {
	viper.SetDefault("build.base_dir", ".")
	viper.SetDefault("build.boot_dir", "/boot")
	viper.SetDefault("build.jobs", 0)
	viper.SetDefault("build.privilege_command", "sudo")
	viper.SetDefault("build.patch_fatal", false)
	viper.SetDefault("build.install_prerequisites", false)
	viper.SetDefault("build.config", string(build.UseDefault))
	viper.SetDefault("build.disable_signing_keys", false)

	releaseDefaults := release.DefaultConfig()
	viper.SetDefault("release.url", releaseDefaults.URL)
	viper.SetDefault("release.retries", releaseDefaults.Retries)
	viper.SetDefault("release.timeout", releaseDefaults.Timeout)

	downloadDefaults := download.DefaultConfig()
	viper.SetDefault("download.base_url", build.DefaultSourceBaseURL)
	viper.SetDefault("download.retries", downloadDefaults.Retries)
	viper.SetDefault("download.retry_delay", downloadDefaults.RetryDelay)
	viper.SetDefault("download.rate_limit", 0)
	viper.SetDefault("download.proxy", "")
	viper.SetDefault("download.local_path", "")
	viper.SetDefault("download.verify_first", false)

	cacheDefaults := storage.DefaultConfig()
	viper.SetDefault("cache.type", cacheDefaults.Type)
	viper.SetDefault("cache.local.path", cacheDefaults.Local.BasePath)
	viper.SetDefault("cache.s3.endpoint", "")
	viper.SetDefault("cache.s3.region", "us-east-1")
	viper.SetDefault("cache.s3.bucket", "")
	viper.SetDefault("cache.s3.prefix", "lkb/")
	viper.SetDefault("cache.s3.access_key_id", "")
	viper.SetDefault("cache.s3.secret_access_key", "")
	viper.SetDefault("cache.s3.use_path_style", false)

	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.path", history.DefaultConfig().Path)

	viper.SetDefault("metrics.textfile", "")

	viper.SetDefault("bootloader.grub_cfg", bootloader.DefaultGrubConfig)
	viper.SetDefault("bootloader.entries_dir", bootloader.DefaultEntriesDir)
	viper.SetDefault("bootloader.grub_command", "")

	viper.SetDefault("distro.override", "")
	viper.SetDefault("distro.os_release", distro.DefaultOSRelease)
}

func initConfig() error {
	opts := cli.DefaultConfigOptions("lkb", "LKB")
	opts.ConfigFile = cfgFile
	return cli.InitConfig(opts)
}

// initLogging builds the logger from configuration and hands it to every package
func initLogging() {
	l := cli.InitLogger("", debug)
	log = l
	build.SetLogger(l)
	bootloader.SetLogger(l)
	distro.SetLogger(l)
	download.SetLogger(l)
	history.SetLogger(l)
	metrics.SetLogger(l)
	registry.SetLogger(l)
	release.SetLogger(l)
	runner.SetLogger(l)
	storage.SetLogger(l)
}

// getOutputFormat returns the current output format
func getOutputFormat() string {
	return outputFormat
}
