package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
	"github.com/bitswalk/lkb/src/lkb/internal/ui"
	"github.com/bitswalk/lkb/src/lkb/storage"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the kernel tarball cache",
	Long: `Lists and removes kernel tarballs kept in the configured cache
(cache.type local or s3).`,
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached tarballs",
	Args:    cobra.NoArgs,
	RunE:    runCacheList,
}

var cacheDeleteCmd = &cobra.Command{
	Use:     "delete [tarball...]",
	Aliases: []string{"rm"},
	Short:   "Remove tarballs from the cache",
	RunE:    runCacheDelete,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)

	cacheDeleteCmd.Flags().Bool("all", false, "Remove every cached tarball")
}

// openCache returns the configured cache, failing when caching is off
func openCache(cmd *cobra.Command) (*storage.TarballCache, error) {
	cache, err := newCache(cmd.Context())
	if err != nil {
		return nil, err
	}
	if !cache.Enabled() {
		return nil, fmt.Errorf("tarball cache is disabled or unreachable (cache.type is %q)", cacheType())
	}
	return cache, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cache, err := openCache(cmd)
	if err != nil {
		return err
	}
	objects, err := cache.List(cmd.Context())
	if err != nil {
		return err
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}

	return output.Print(getOutputFormat(), objects, func() {
		if len(objects) == 0 {
			output.PrintMessage(fmt.Sprintf("No tarballs cached in %s.", cache.Location()))
			return
		}
		rows := make([][]string, len(objects))
		for i, o := range objects {
			rows[i] = []string{o.Key, fmt.Sprintf("%.1f MiB", float64(o.Size)/(1<<20)), o.LastModified.Local().Format(time.DateTime)}
		}
		output.PrintTable([]string{"TARBALL", "SIZE", "MODIFIED"}, rows)
	})
}

func runCacheDelete(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return fmt.Errorf("name the tarballs to remove or pass --all")
	}

	cache, err := openCache(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	names := args
	if all {
		objects, err := cache.List(ctx)
		if err != nil {
			return err
		}
		names = make([]string, len(objects))
		for i, o := range objects {
			names[i] = o.Key
		}
		if len(names) == 0 {
			output.PrintMessage("Nothing to remove.")
			return nil
		}
		ok, err := newPrompter().Confirm(fmt.Sprintf("Remove %d cached tarballs from %s?", len(names), cache.Location()), false)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrCancelled
		}
	}

	for _, name := range names {
		if err := cache.Delete(ctx, name); err != nil {
			return err
		}
	}

	return output.Print(getOutputFormat(), map[string][]string{"removed": names}, func() {
		output.PrintMessage(ui.Success(fmt.Sprintf("Removed %d tarballs from the cache.", len(names))))
	})
}

func cacheType() string {
	if t := viper.GetString("cache.type"); t != "" {
		return t
	}
	return storage.TypeNone
}
