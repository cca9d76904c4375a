package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lmeira/docsqueeze/internal/model"
)

var (
	processTag    string
	processDryRun bool
)

var processCmd = &cobra.Command{
	Use:   "process [doc-id...]",
	Short: "Classify and extract metadata for documents",
	Long:  "Runs each document through classification, field extraction, normalization and merge, then applies high-confidence changes or queues the document for review.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(args) == 0 && processTag == "" {
			return eris.New("give document IDs or --tag")
		}

		proc, runs, err := initProcessor(ctx, true)
		if err != nil {
			return err
		}
		if runs != nil {
			defer runs.Close() //nolint:errcheck
		}

		var results []model.ProcessingResult
		if processTag != "" {
			results, err = proc.ProcessByTag(ctx, processTag, processDryRun)
		} else {
			docIDs := make([]int, 0, len(args))
			for _, arg := range args {
				id, convErr := strconv.Atoi(arg)
				if convErr != nil {
					return eris.Errorf("invalid document ID %q", arg)
				}
				docIDs = append(docIDs, id)
			}
			results, err = proc.ProcessBatch(ctx, docIDs, processDryRun)
		}
		if err != nil {
			return eris.Wrap(err, "process")
		}

		logResultSummary(results)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Process every document in the archive inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		proc, runs, err := initProcessor(ctx, true)
		if err != nil {
			return err
		}
		if runs != nil {
			defer runs.Close() //nolint:errcheck
		}

		tag, _ := cmd.Flags().GetString("tag")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		results, err := proc.ProcessByTag(ctx, tag, dryRun)
		if err != nil {
			return eris.Wrap(err, "inbox")
		}

		logResultSummary(results)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func logResultSummary(results []model.ProcessingResult) {
	var succeeded, review, failed int
	for _, r := range results {
		switch {
		case !r.Success:
			failed++
		case r.ReviewRequired:
			review++
		default:
			succeeded++
		}
	}
	zap.L().Info("processing complete",
		zap.Int("documents", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Int("needs_review", review),
		zap.Int("failed", failed),
	)
}

func init() {
	processCmd.Flags().StringVar(&processTag, "tag", "", "process all documents carrying this tag")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "compute changes without writing to the archive")

	inboxCmd.Flags().String("tag", "inbox", "inbox tag name")
	inboxCmd.Flags().Bool("dry-run", false, "compute changes without writing to the archive")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(inboxCmd)
}
