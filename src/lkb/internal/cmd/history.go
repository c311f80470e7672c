package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitswalk/lkb/src/common/errors"
	"github.com/bitswalk/lkb/src/lkb/history"
	"github.com/bitswalk/lkb/src/lkb/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded build runs",
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent build runs",
	Args:    cobra.NoArgs,
	RunE:    runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the stages of a build run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:     "delete <run-id>...",
	Aliases: []string{"rm"},
	Short:   "Forget recorded build runs",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runHistoryDelete,
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)

	historyListCmd.Flags().Int("limit", 20, "Maximum number of runs (0 for all)")
}

// runDetail is a run with its stages
type runDetail struct {
	history.Run `yaml:",inline"`
	Stages      []history.Stage `json:"stages" yaml:"stages"`
}

func openHistoryRepo() (*history.RunRepository, func(), error) {
	db, err := openHistory()
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		return nil, nil, fmt.Errorf("build history is disabled (history.enabled is false)")
	}
	return history.NewRunRepository(db), func() { db.Close() }, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openHistoryRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := repo.List(limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []history.Run{}
	}

	return output.Print(getOutputFormat(), runs, func() {
		if len(runs) == 0 {
			output.PrintMessage("No build runs recorded.")
			return
		}
		rows := make([][]string, len(runs))
		for i, r := range runs {
			rows[i] = []string{r.ID, r.KernelVersion, string(r.Status), r.ErrorStage, r.StartedAt.Local().Format(time.DateTime), runDuration(r)}
		}
		output.PrintTable([]string{"ID", "VERSION", "STATUS", "FAILED STAGE", "STARTED", "DURATION"}, rows)
	})
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openHistoryRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := repo.Get(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return errors.ErrRunNotFound.WithMessagef("Build run %q not found", args[0])
	}
	stages, err := repo.GetStages(run.ID)
	if err != nil {
		return err
	}
	if stages == nil {
		stages = []history.Stage{}
	}

	detail := runDetail{Run: *run, Stages: stages}
	return output.Print(getOutputFormat(), detail, func() {
		output.PrintTable(
			[]string{"FIELD", "VALUE"},
			[][]string{
				{"ID", run.ID},
				{"Version", run.KernelVersion},
				{"Status", string(run.Status)},
				{"Config", run.ConfigChoice},
				{"Patch", run.PatchPath},
				{"Base Dir", run.BaseDir},
				{"Exit Code", fmt.Sprintf("%d", run.ExitCode)},
				{"Error", run.ErrorMessage},
				{"Started", run.StartedAt.Local().Format(time.DateTime)},
				{"Duration", runDuration(*run)},
			},
		)
		if len(stages) > 0 {
			output.PrintMessage("")
			rows := make([][]string, len(stages))
			for i, s := range stages {
				rows[i] = []string{s.Name, s.Status, (time.Duration(s.DurationMs) * time.Millisecond).String(), s.Detail}
			}
			output.PrintTable([]string{"STAGE", "STATUS", "DURATION", "DETAIL"}, rows)
		}
	})
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openHistoryRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	// Check every ID first so a typo deletes nothing
	for _, id := range args {
		run, err := repo.Get(id)
		if err != nil {
			return err
		}
		if run == nil {
			return errors.ErrRunNotFound.WithMessagef("Build run %q not found", id)
		}
	}
	for _, id := range args {
		if err := repo.Delete(id); err != nil {
			return err
		}
	}

	return output.Print(getOutputFormat(), map[string][]string{"deleted": args}, func() {
		output.PrintMessage(fmt.Sprintf("Deleted %d build runs.", len(args)))
	})
}

func runDuration(r history.Run) string {
	if r.CompletedAt == nil {
		return ""
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}
