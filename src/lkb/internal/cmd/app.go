package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/bitswalk/lkb/src/common/cli"
	"github.com/bitswalk/lkb/src/lkb/bootloader"
	"github.com/bitswalk/lkb/src/lkb/build"
	"github.com/bitswalk/lkb/src/lkb/distro"
	"github.com/bitswalk/lkb/src/lkb/download"
	"github.com/bitswalk/lkb/src/lkb/history"
	"github.com/bitswalk/lkb/src/lkb/registry"
	"github.com/bitswalk/lkb/src/lkb/release"
	"github.com/bitswalk/lkb/src/lkb/runner"
	"github.com/bitswalk/lkb/src/lkb/storage"
)

// Collaborator hooks; tests replace them
var (
	stdin io.Reader = os.Stdin

	stdinIsTerminal = func() bool {
		return term.IsTerminal(int(os.Stdin.Fd()))
	}

	stderrIsTerminal = func() bool {
		return term.IsTerminal(int(os.Stderr.Fd()))
	}

	newRunner = func(opts ...runner.Option) runner.Runner {
		opts = append([]runner.Option{runner.WithPrivilegeCommand(viper.GetString("build.privilege_command"))}, opts...)
		return runner.New(opts...)
	}
)

// baseDir returns the absolute build directory
func baseDir() (string, error) {
	return filepath.Abs(cli.GetExpandedString("build.base_dir"))
}

func bootDir() string {
	return cli.GetExpandedString("build.boot_dir")
}

func jobs() int {
	if n := viper.GetInt("build.jobs"); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// detectDistro honours distro.override before reading os-release
func detectDistro() (*distro.Distro, error) {
	if id := viper.GetString("distro.override"); id != "" {
		return distro.ForID(distro.ID(id))
	}
	return distro.Detect(viper.GetString("distro.os_release"))
}

func newCatalog() release.Catalog {
	cfg := release.DefaultConfig()
	cfg.URL = viper.GetString("release.url")
	cfg.Retries = viper.GetInt("release.retries")
	if d := viper.GetDuration("release.timeout"); d > 0 {
		cfg.Timeout = d
	}
	cfg.UserAgent = VersionInfo.UserAgent()
	return release.NewKernelOrgCatalog(nil, cfg)
}

func newDownloader() (*download.Downloader, error) {
	var mirrors []download.Mirror
	if err := viper.UnmarshalKey("download.mirrors", &mirrors); err != nil {
		return nil, err
	}
	resolver := download.NewMirrorResolver(mirrors, download.MirrorConfig{
		ProxyURL:  viper.GetString("download.proxy"),
		LocalPath: cli.GetExpandedString("download.local_path"),
	})

	cfg := download.DefaultConfig()
	cfg.Retries = viper.GetInt("download.retries")
	cfg.RetryDelay = viper.GetDuration("download.retry_delay")
	cfg.RateLimit = viper.GetInt64("download.rate_limit")
	cfg.VerifyFirst = viper.GetBool("download.verify_first")
	cfg.UserAgent = VersionInfo.UserAgent()
	return download.NewDownloader(nil, resolver, cfg), nil
}

// newCache returns the tarball cache; a disabled or unreachable cache is a no-op
func newCache(ctx context.Context) (*storage.TarballCache, error) {
	backend, err := storage.New(storage.Config{
		Type: viper.GetString("cache.type"),
		Local: storage.LocalConfig{
			BasePath: viper.GetString("cache.local.path"),
		},
		S3: storage.S3Config{
			Endpoint:        viper.GetString("cache.s3.endpoint"),
			Region:          viper.GetString("cache.s3.region"),
			Bucket:          viper.GetString("cache.s3.bucket"),
			Prefix:          viper.GetString("cache.s3.prefix"),
			AccessKeyID:     viper.GetString("cache.s3.access_key_id"),
			SecretAccessKey: viper.GetString("cache.s3.secret_access_key"),
			UsePathStyle:    viper.GetBool("cache.s3.use_path_style"),
		},
	})
	if err != nil {
		return nil, err
	}
	cache := storage.NewTarballCache(backend)
	_ = cache.Ping(ctx)
	return cache, nil
}

func bootloaderConfig() bootloader.Config {
	return bootloader.Config{
		GrubConfig:  cli.GetExpandedString("bootloader.grub_cfg"),
		EntriesDir:  cli.GetExpandedString("bootloader.entries_dir"),
		GrubCommand: viper.GetString("bootloader.grub_command"),
	}
}

func newRegistry() *registry.Registry {
	bl := bootloaderConfig()
	return registry.New(registry.Config{
		BootDir:    bootDir(),
		GrubConfig: bl.GrubConfig,
		EntriesDir: bl.EntriesDir,
	})
}

// openHistory opens the run history; a nil database means history is disabled
func openHistory() (*history.Database, error) {
	if !viper.GetBool("history.enabled") {
		return nil, nil
	}
	return history.Open(history.Config{Path: viper.GetString("history.path")})
}

func newPolicy() build.Policy {
	return build.Policy{PatchFatal: viper.GetBool("build.patch_fatal")}
}
