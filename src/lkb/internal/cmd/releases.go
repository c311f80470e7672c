package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
)

var releasesCmd = &cobra.Command{
	Use:     "releases",
	Aliases: []string{"rel"},
	Short:   "List kernel releases published on kernel.org",
	Args:    cobra.NoArgs,
	RunE:    runReleases,
}

func init() {
	releasesCmd.Flags().Int("limit", 0, "Maximum number of releases to show")
	releasesCmd.Flags().Bool("no-eol", false, "Hide end-of-life releases")
}

func runReleases(cmd *cobra.Command, args []string) error {
	releases, err := newCatalog().Releases(cmd.Context())
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		return errors.ErrCatalogUnavailable
	}

	if noEOL, _ := cmd.Flags().GetBool("no-eol"); noEOL {
		kept := releases[:0]
		for _, r := range releases {
			if !r.IsEOL {
				kept = append(kept, r)
			}
		}
		releases = kept
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && limit < len(releases) {
		releases = releases[:limit]
	}

	return output.Print(getOutputFormat(), releases, func() {
		rows := make([][]string, len(releases))
		for i, r := range releases {
			eol := ""
			if r.IsEOL {
				eol = "yes"
			}
			rows[i] = []string{r.Version, r.Moniker, r.ReleaseDate, eol}
		}
		output.PrintTable([]string{"VERSION", "MONIKER", "RELEASED", "EOL"}, rows)
	})
}
