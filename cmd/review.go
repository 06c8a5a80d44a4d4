package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/dedup"
	"github.com/sells-group/catalog-dedup/internal/model"
	"github.com/sells-group/catalog-dedup/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List and adjudicate flagged duplicate groups",
}

// -- review list --

var reviewListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List groups flagged for human review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		groups, err := st.ListReviewGroups(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "review list")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	},
}

// -- review decide --

var (
	reviewRunID    string
	reviewGroupID  int64
	reviewDecision string
)

var reviewDecideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Apply a merge or discard decision to a flagged group",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := applyDecision(ctx, st, reviewRunID, reviewGroupID,
			model.ReviewDecision(reviewDecision)); err != nil {
			return err
		}

		zap.L().Info("review decision applied",
			zap.String("run_id", reviewRunID),
			zap.Int64("group_id", reviewGroupID),
			zap.String("decision", reviewDecision),
		)
		return nil
	},
}

// applyDecision loads a run's results, applies the human verdict through the
// registry semantics, and persists the changed members.
func applyDecision(ctx context.Context, st store.Store, runID string, groupID int64, decision model.ReviewDecision) error {
	if runID == "" {
		return eris.New("run_id is required")
	}
	if groupID == 0 {
		return eris.New("group_id is required")
	}

	records, err := st.ListResults(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "load results for run %s", runID)
	}
	if len(records) == 0 {
		return eris.Errorf("no results for run %s", runID)
	}

	var members []*model.Record
	for _, r := range records {
		if r.GroupID == groupID {
			members = append(members, r)
		}
	}

	if err := dedup.ApplyReviewDecision(records, groupID, decision); err != nil {
		return err
	}

	return st.UpdateResults(ctx, runID, members)
}

func init() {
	reviewDecideCmd.Flags().StringVar(&reviewRunID, "run", "", "run ID (required)")
	reviewDecideCmd.Flags().Int64Var(&reviewGroupID, "group", 0, "group ID (required)")
	reviewDecideCmd.Flags().StringVar(&reviewDecision, "decision", "", "merge or discard (required)")
	_ = reviewDecideCmd.MarkFlagRequired("run")
	_ = reviewDecideCmd.MarkFlagRequired("group")
	_ = reviewDecideCmd.MarkFlagRequired("decision")
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewDecideCmd)
	rootCmd.AddCommand(reviewCmd)
}
