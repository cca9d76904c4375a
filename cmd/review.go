package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lmeira/docsqueeze/internal/model"
	"github.com/lmeira/docsqueeze/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Manage the document review queue",
	Long:  "Commands for listing documents waiting on human review and approving or rejecting their proposed changes.",
}

// -- review list --

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents pending review",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		queue, err := initQueue()
		if err != nil {
			return err
		}

		ids, err := queue.Pending(ctx)
		if err != nil {
			return eris.Wrap(err, "review list")
		}

		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "No documents pending review.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "DOC_ID\tCHANGES")
		for _, id := range ids {
			changes, err := queue.ProposedChanges(ctx, id)
			if err != nil {
				return eris.Wrap(err, "review list")
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\n", id, summarizeChanges(changes))
		}
		return w.Flush()
	},
}

// -- review show --

var reviewShowCmd = &cobra.Command{
	Use:   "show <doc-id>",
	Short: "Show the proposed changes for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docID, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Errorf("invalid document ID %q", args[0])
		}

		queue, err := initQueue()
		if err != nil {
			return err
		}

		changes, err := queue.ProposedChanges(ctx, docID)
		if err != nil {
			return eris.Wrap(err, "review show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(changes)
	},
}

// -- review approve --

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <doc-id>",
	Short: "Apply the proposed changes for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docID, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Errorf("invalid document ID %q", args[0])
		}

		queue, err := initQueue()
		if err != nil {
			return err
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		changes, err := queue.Approve(ctx, docID, dryRun)
		if err != nil {
			return eris.Wrap(err, "review approve")
		}

		if dryRun {
			fmt.Fprintf(os.Stderr, "Would apply %d change(s) to document %d:\n", len(changes), docID)
		}
		printChanges(os.Stdout, changes)
		return nil
	},
}

// -- review reject --

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <doc-id>",
	Short: "Discard the proposed changes for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docID, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Errorf("invalid document ID %q", args[0])
		}

		queue, err := initQueue()
		if err != nil {
			return err
		}

		reason, _ := cmd.Flags().GetString("reason")
		if err := queue.Reject(ctx, docID, reason); err != nil {
			return eris.Wrap(err, "review reject")
		}

		zap.L().Info("document rejected", zap.Int("doc_id", docID), zap.String("reason", reason))
		return nil
	},
}

func initQueue() (*review.Queue, error) {
	archiveClient, err := initArchive()
	if err != nil {
		return nil, err
	}
	return review.NewQueue(archiveClient, cfg.Tags), nil
}

// summarizeChanges renders a compact field list for the tabular view.
func summarizeChanges(changes []model.ProposedChange) string {
	if len(changes) == 0 {
		return "(none stored)"
	}
	out := ""
	for i, c := range changes {
		if i > 0 {
			out += ", "
		}
		out += c.FieldName
	}
	return out
}

func printChanges(out io.Writer, changes []model.ProposedChange) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tCURRENT\tPROPOSED\tCONFIDENCE")
	for _, c := range changes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", c.FieldName, c.CurrentValue, c.ProposedValue, c.Confidence)
	}
	_ = w.Flush()
}

func init() {
	reviewApproveCmd.Flags().Bool("dry-run", false, "show the changes without applying them")
	reviewRejectCmd.Flags().String("reason", "", "why the changes were rejected")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}
