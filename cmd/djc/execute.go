package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/disk-janitor/internal/execute"
	"github.com/franz/disk-janitor/internal/store"
	"github.com/franz/disk-janitor/internal/util"
)

var executeCmd = &cobra.Command{
	Use:   "execute <plan-id>",
	Short: "Execute an approved migration plan",
	Long: `Execute an approved plan step by step.

Each step is hash-verified at both ends: the source is re-hashed before
transfer and the destination re-hashed after, and no step is reported
completed until the destination verifies. Steps run in batches gated by
the free-space guard; a batch that would use more than half of the
destination's free space pauses the plan instead of running.

Execution is resumable: interrupt with Ctrl-C and re-run the same
command. Completed steps are never re-executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecutePlan,
}

func init() {
	rootCmd.AddCommand(executeCmd)

	executeCmd.Flags().Bool("dry-run", false, "report what would execute without touching anything")
	executeCmd.Flags().Int("batch-size", 0, "steps per space-guard batch")
	executeCmd.Flags().String("bwlimit", "", "bandwidth limit, e.g. 40M or 1.5G")
	executeCmd.Flags().Int("retries", 0, "retries per step for transient failures")
	executeCmd.Flags().String("on-failure", "abort", "failure policy (abort, skip, prompt)")
	executeCmd.Flags().Duration("timeout", 0, "per-step transfer timeout")
	executeCmd.Flags().BoolP("yes", "y", false, "run batches without confirmation")
}

func runExecutePlan(cmd *cobra.Command, args []string) error {
	planID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := db.GetPlan(planID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("plan %d not found", planID)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	if batchSize == 0 {
		batchSize = viper.GetInt("batch_size")
	}
	retries, _ := cmd.Flags().GetInt("retries")
	if retries == 0 {
		retries = viper.GetInt("retries")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	yes, _ := cmd.Flags().GetBool("yes")

	policy, err := parsePolicy(cmd)
	if err != nil {
		return err
	}

	bwlimit, err := parseBwlimit(cmd)
	if err != nil {
		return err
	}

	logger := openEventLogger()
	defer logger.Close()

	util.InfoLog("=== Execution ===")
	util.InfoLog("Plan %d: %s", p.ID, p.Description)
	util.InfoLog("  %d files, %s (%d files already done)",
		p.TotalFiles, humanize.IBytes(uint64(p.TotalBytes)), p.CompletedFiles)
	if bwlimit > 0 {
		util.InfoLog("  Bandwidth limit: %s/s", humanize.IBytes(uint64(bwlimit)))
	}
	if dryRun {
		util.InfoLog("  Dry-run mode: no changes will be made")
	}

	var bar *progressbar.ProgressBar
	if !dryRun && !viper.GetBool("quiet") {
		remaining := p.TotalBytes - p.CompletedBytes
		if remaining < 0 {
			remaining = 0
		}
		bar = progressbar.DefaultBytes(remaining, "migrating")
	}

	cfg := execute.Config{
		Store:          db,
		RetryCount:     retries,
		Policy:         policy,
		BatchSize:      batchSize,
		BandwidthLimit: bwlimit,
		StepTimeout:    timeout,
		DryRun:         dryRun,
		Logger:         logger,
		OnStepDone: func(step *store.Step, bytes int64) {
			if bar != nil {
				bar.Add64(bytes)
			}
		},
	}

	if !yes && !dryRun {
		cfg.Confirm = confirmBatch
	}
	if policy == execute.RetryThenPrompt {
		cfg.OnFailure = promptOnFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()

	result, err := execute.New(cfg).ExecutePlan(ctx, planID)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		if ctx.Err() != nil {
			util.WarnLog("Interrupted. Resume with: djc execute %d", planID)
		}
		return fmt.Errorf("execution failed: %w", err)
	}

	printExecutionSummary(result, time.Since(startTime), planID)
	return nil
}

func parsePolicy(cmd *cobra.Command) (execute.FailurePolicy, error) {
	onFailure, _ := cmd.Flags().GetString("on-failure")
	switch onFailure {
	case "abort":
		return execute.AbortOnFailure, nil
	case "skip":
		return execute.SkipOnFailure, nil
	case "prompt":
		return execute.RetryThenPrompt, nil
	}
	return "", fmt.Errorf("invalid --on-failure %q (must be abort, skip or prompt)", onFailure)
}

func parseBwlimit(cmd *cobra.Command) (int64, error) {
	bwlimitStr, _ := cmd.Flags().GetString("bwlimit")
	if bwlimitStr == "" {
		bwlimitStr = viper.GetString("bwlimit")
	}
	if bwlimitStr == "" {
		return 0, nil
	}

	parsed, err := humanize.ParseBytes(bwlimitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid --bwlimit %q: %w", bwlimitStr, err)
	}
	return int64(parsed), nil
}

func confirmBatch(planID int64, steps int, batchBytes uint64) bool {
	fmt.Fprintf(os.Stderr, "Run batch of %d steps (%s) for plan %d? [y/N] ",
		steps, humanize.IBytes(batchBytes), planID)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func promptOnFailure(step *store.Step, err error) execute.Decision {
	fmt.Fprintf(os.Stderr, "Step %d (%s %s) failed: %v\n", step.ID, step.Action, step.SourcePath, err)
	fmt.Fprint(os.Stderr, "[r]etry, [s]kip, [a]bort? ")

	line, readErr := bufio.NewReader(os.Stdin).ReadString('\n')
	if readErr != nil {
		return execute.DecisionAbort
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "r", "retry":
		return execute.DecisionRetry
	case "s", "skip":
		return execute.DecisionSkip
	}
	return execute.DecisionAbort
}

func printExecutionSummary(result *execute.Result, duration time.Duration, planID int64) {
	util.InfoLog("")
	util.SuccessLog("=== Execution Summary ===")
	util.InfoLog("Total time: %v", duration.Round(time.Millisecond))
	util.InfoLog("Steps processed: %d", result.Processed)
	util.InfoLog("  Completed: %d", result.Completed)
	if result.Failed > 0 {
		util.WarnLog("  Failed: %d", result.Failed)
	}
	util.InfoLog("Bytes written: %s", humanize.IBytes(uint64(result.BytesWritten)))

	if result.Paused {
		util.WarnLog("")
		util.WarnLog("Plan paused: %s", result.PauseReason)
		util.InfoLog("Free up space or bring the drive online, then re-run: djc execute %d", planID)
	}

	if len(result.StepErrors) > 0 {
		util.InfoLog("")
		util.WarnLog("Step errors:")
		for i, se := range result.StepErrors {
			if i >= 10 {
				util.WarnLog("... and %d more errors", len(result.StepErrors)-10)
				break
			}
			util.WarnLog("  step %d (%s): %s", se.StepID, se.Action, se.Err)
		}
		util.InfoLog("")
		util.InfoLog("To retry failed steps: djc execute %d", planID)
	}
}
