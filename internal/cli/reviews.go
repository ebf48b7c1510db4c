package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/verdict/internal/governance"
	"github.com/ppiankov/verdict/internal/model"
)

var (
	reviewAction    string
	reviewRationale string
	reviewer        string
)

// reviewsCmd represents the reviews command
var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Work the human review queue",
	Long: `Runs whose decision requires human review are queued in the governance
store (store.path). The machine decision is kept next to the human one.`,
}

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending reviews, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		reviews, err := store.ListPendingReviews(cmd.Context())
		if err != nil {
			return err
		}
		if len(reviews) == 0 {
			fmt.Fprintln(os.Stderr, "No pending reviews")
			return nil
		}
		for _, r := range reviews {
			fmt.Printf("#%d  %s  %s  %s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.MachineAction, r.RunID)
			if len(r.EscalationReasons) > 0 {
				fmt.Printf("     reasons: %s\n", strings.Join(r.EscalationReasons, ", "))
			}
			fmt.Printf("     %s\n", truncate(r.Transcript, 100))
		}
		return nil
	},
}

var reviewsResolveCmd = &cobra.Command{
	Use:     "resolve <review-id>",
	Short:   "Submit the human decision for a pending review",
	Example: `  verdict reviews resolve 12 --action Allow --rationale "satire" --reviewer alice`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid review id %q", args[0])
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.SubmitHumanDecision(cmd.Context(), id, model.Action(reviewAction), reviewRationale, reviewer); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Review #%d resolved: %s\n", id, reviewAction)
		return nil
	},
}

// runsShowCmd prints a recorded run
var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a recorded run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rec, err := store.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(json.RawMessage(rec.RunJSON), "", "  ")
		if err != nil {
			return fmt.Errorf("format run: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
}

func init() {
	rootCmd.AddCommand(reviewsCmd)
	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsResolveCmd)

	reviewsResolveCmd.Flags().StringVar(&reviewAction, "action", "", "human action (Allow, LabelDownrank, EscalateHuman, HumanConfirmation)")
	reviewsResolveCmd.Flags().StringVar(&reviewRationale, "rationale", "", "reason for the decision")
	reviewsResolveCmd.Flags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "reviewer name")
	_ = reviewsResolveCmd.MarkFlagRequired("action")

	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
}

func openStore() (*governance.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("no governance store configured: set store.path or VERDICT_STORE_PATH")
	}
	return governance.NewStore(cfg.Store.Path)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
