package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cpan115/pan115-go/internal/config"
	"github.com/cpan115/pan115-go/internal/pan"
	"github.com/cpan115/pan115-go/internal/transfer"
)

// errUnitsFailed signals a partially-failed transfer; main() turns it into
// a non-zero exit without the generic error banner (the per-unit failures
// were already reported).
var errUnitsFailed = errors.New("some transfers failed")

// Transfer command flags.
var (
	flagConcurrency int
	flagResume      bool
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "upload <local-path> [remote-dir]",
		Aliases: []string{"up"},
		Short:   "Upload a file or folder",
		Long: `Upload a local file or folder tree to 115. The remote target is a
directory id (pure digits) or an absolute remote path; it defaults to the
root directory. Folder uploads recreate the tree under the target.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runUpload,
	}

	addTransferFlags(cmd)

	return cmd
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "download <id-or-path> [local-dir]",
		Aliases: []string{"down"},
		Short:   "Download a file or folder",
		Long: `Download a remote file or folder tree from 115. The source is an
object id (pure digits) or an absolute remote path. The local target
directory defaults to the current directory.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runDownload,
	}

	addTransferFlags(cmd)

	return cmd
}

func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&flagConcurrency, "concurrency", "j", 0, "parallel transfer workers (default from config)")
	cmd.Flags().BoolVar(&flagResume, "resume", false, "skip files recorded as completed by a previous interrupted run")
}

func runUpload(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	targetRef := pan.RootID
	if len(args) > 1 {
		targetRef = args[1]
	}

	target, err := transfer.ResolveRemote(ctx, client, targetRef, logger)
	if err != nil {
		return fmt.Errorf("resolving target %q: %w", targetRef, err)
	}

	plan, err := transfer.NewPlanner(client, logger).PlanUpload(ctx, args[0], target)
	if err != nil {
		return err
	}

	return executePlan(ctx, client, plan, logger)
}

func runDownload(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	client, err := apiClient(logger)
	if err != nil {
		return err
	}

	localDir := "."
	if len(args) > 1 {
		localDir = args[1]
	}

	source, err := transfer.ResolveRemote(ctx, client, args[0], logger)
	if err != nil {
		return fmt.Errorf("resolving source %q: %w", args[0], err)
	}

	plan, err := transfer.NewPlanner(client, logger).PlanDownload(ctx, source, localDir)
	if err != nil {
		return err
	}

	return executePlan(ctx, client, plan, logger)
}

// executePlan runs a plan with the configured concurrency, reports the
// aggregated result, and maps partial failure to a non-zero exit.
func executePlan(ctx context.Context, client *pan.Client, plan *transfer.Plan, logger *slog.Logger) error {
	concurrency := resolvedCfg.Transfers.Concurrency
	if flagConcurrency > 0 {
		concurrency = flagConcurrency
	}

	var journal *transfer.Journal

	if flagResume {
		var err error

		journal, err = transfer.OpenJournal(ctx, config.JournalPath(), logger)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	statusf("Transferring %d file(s) with %d worker(s)...\n", len(plan.Units), concurrency)

	result, err := transfer.NewExecutor(client, journal, concurrency, logger).Execute(ctx, plan)
	if err != nil {
		return err
	}

	// A fully successful run retires its journal entries so a later
	// transfer to the same destination starts fresh.
	if journal != nil && len(result.Failed) == 0 {
		key := transfer.PlanKey(plan.Direction, plan.SourceRoot, plan.TargetRoot)
		if clearErr := journal.Clear(context.Background(), key); clearErr != nil {
			logger.Warn("clearing journal failed", slog.String("error", clearErr.Error()))
		}
	}

	return reportResult(result)
}

// transferOutput is the JSON schema for transfer results.
type transferOutput struct {
	PlanID    string            `json:"plan_id"`
	Succeeded int               `json:"succeeded"`
	Failed    []transferFailure `json:"failed"`
}

type transferFailure struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func reportResult(result *transfer.Result) error {
	if flagJSON {
		out := transferOutput{
			PlanID:    result.PlanID,
			Succeeded: len(result.Succeeded),
			Failed:    make([]transferFailure, 0, len(result.Failed)),
		}

		for _, unit := range result.Failed {
			out.Failed = append(out.Failed, transferFailure{
				Path:  unit.RelPath,
				Kind:  transfer.Classify(unit.Err).String(),
				Error: unit.Err.Error(),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		if len(result.Failed) > 0 {
			return errUnitsFailed
		}

		return nil
	}

	// Per-unit progress detail only lands on interactive terminals;
	// redirected output gets just the summary and failures.
	if stderrIsTTY() {
		for _, unit := range result.Succeeded {
			statusf("  done  %s\n", unit.RelPath)
		}
	}

	for _, unit := range result.Failed {
		fmt.Fprintf(os.Stderr, "  FAILED  %s: %s (%s)\n",
			unit.RelPath, unit.Err, transfer.Classify(unit.Err))
	}

	statusf("%d succeeded, %d failed.\n", len(result.Succeeded), len(result.Failed))

	if len(result.Failed) > 0 {
		return errUnitsFailed
	}

	return nil
}
