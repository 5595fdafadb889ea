package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/cpan115/pan115-go/internal/pan"
)

// dirPermissions is the Unix permission mode for newly created local
// directories.
const dirPermissions = 0o755

// Per-unit retry policy: maxAttempts total tries with exponential backoff.
// Only KindTransient failures consume the budget; everything else is
// terminal on the first occurrence.
const (
	maxAttempts      = 3
	defaultRetryBase = 500 * time.Millisecond
)

// DefaultConcurrency is the worker pool size when the caller passes 0.
const DefaultConcurrency = 4

// Result aggregates a finished plan. Every unit of the plan appears in
// exactly one of the two slices; failed units carry their error in
// Unit.Err.
type Result struct {
	PlanID    string
	Succeeded []*Unit
	Failed    []*Unit
}

// Executor runs a plan's units on a bounded worker pool. Per-unit failures
// never abort siblings; Execute returns only after every unit reaches a
// terminal state.
type Executor struct {
	api         Remote
	journal     *Journal // optional; nil disables resume
	concurrency int
	logger      *slog.Logger

	// retryBase is the first backoff interval. Tests shrink it.
	retryBase time.Duration
}

// NewExecutor creates an Executor. journal may be nil. concurrency <= 0
// selects DefaultConcurrency.
func NewExecutor(api Remote, journal *Journal, concurrency int, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Executor{
		api:         api,
		journal:     journal,
		concurrency: concurrency,
		logger:      logger,
		retryBase:   defaultRetryBase,
	}
}

// Execute runs the plan to completion. It returns an error only for
// failures that prevent execution from starting at all (root directory
// creation, journal access); individual unit failures are reported in the
// Result. Cancellation stops dispatch of new units, lets in-flight
// attempts finish, and marks undispatched units Failed with a Cancelled
// condition.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	e.logger.Info("executing plan",
		slog.String("plan_id", plan.ID),
		slog.String("direction", plan.Direction.String()),
		slog.Int("units", len(plan.Units)),
		slog.Int("concurrency", e.concurrency),
	)

	dirs, err := e.prepareRoots(ctx, plan)
	if err != nil {
		return nil, err
	}

	done, err := e.journalDone(ctx, plan)
	if err != nil {
		return nil, err
	}

	result := &Result{PlanID: plan.ID}

	var (
		mu       sync.Mutex
		authHalt atomic.Bool
	)

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for i := range plan.Units {
		unit := &plan.Units[i]

		if done[plan.destRel(unit)] {
			unit.Status = UnitDone

			e.logger.Info("unit already transferred, skipping",
				slog.String("plan_id", plan.ID),
				slog.String("rel_path", unit.RelPath),
			)

			mu.Lock()
			result.Succeeded = append(result.Succeeded, unit)
			mu.Unlock()

			continue
		}

		g.Go(func() error {
			e.runOne(ctx, plan, unit, dirs, &authHalt)

			mu.Lock()
			if unit.Status == UnitDone {
				result.Succeeded = append(result.Succeeded, unit)
			} else {
				result.Failed = append(result.Failed, unit)
			}
			mu.Unlock()

			return nil
		})
	}

	g.Wait() //nolint:errcheck // workers never return errors

	e.logger.Info("plan finished",
		slog.String("plan_id", plan.ID),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)),
	)

	return result, nil
}

// prepareRoots creates the destination root directory. The root is created
// even for an empty tree — the folder must appear at the target. Returns
// the DirEnsurer for upload plans, nil for downloads.
func (e *Executor) prepareRoots(ctx context.Context, plan *Plan) (*DirEnsurer, error) {
	if plan.Direction == DirectionDownload {
		root := plan.TargetRoot
		if plan.RootName != "" {
			root = filepath.Join(root, plan.RootName)
		}

		if err := os.MkdirAll(root, dirPermissions); err != nil {
			return nil, fmt.Errorf("transfer: creating local target %q: %w", root, err)
		}

		return nil, nil
	}

	dirs := NewDirEnsurer(e.api, plan.TargetRoot, e.logger)

	if plan.RootName != "" {
		if _, err := dirs.Ensure(ctx, plan.RootName); err != nil {
			return nil, fmt.Errorf("transfer: creating remote target root: %w", err)
		}
	}

	return dirs, nil
}

// journalDone records the plan and returns the set of destination paths
// already completed in a previous run.
func (e *Executor) journalDone(ctx context.Context, plan *Plan) (map[string]bool, error) {
	if e.journal == nil {
		return nil, nil
	}

	key := PlanKey(plan.Direction, plan.SourceRoot, plan.TargetRoot)

	done, err := e.journal.DoneUnits(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("transfer: reading journal: %w", err)
	}

	return done, nil
}

// runOne drives a single unit to a terminal state.
func (e *Executor) runOne(ctx context.Context, plan *Plan, unit *Unit, dirs *DirEnsurer, authHalt *atomic.Bool) {
	if ctx.Err() != nil {
		e.failUnit(plan, unit, fmt.Errorf("transfer: not dispatched: %w", ctx.Err()))
		return
	}

	if authHalt.Load() {
		e.failUnit(plan, unit, fmt.Errorf("transfer: not dispatched: %w", pan.ErrAuthExpired))
		return
	}

	unit.Status = UnitInProgress

	err := e.runWithRetry(ctx, plan, unit, dirs)
	if err != nil {
		if Classify(err) == KindAuthExpired {
			// No unit can succeed without a valid token; stop dispatching.
			authHalt.Store(true)
		}

		e.failUnit(plan, unit, err)

		return
	}

	unit.Status = UnitDone

	e.markDone(plan, unit)
}

// runWithRetry wraps a unit attempt in the retry policy: transient
// failures back off exponentially within the attempt budget, everything
// else is terminal immediately.
func (e *Executor) runWithRetry(ctx context.Context, plan *Plan, unit *Unit, dirs *DirEnsurer) error {
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(e.retryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		unit.Attempts++

		err := e.attempt(ctx, plan, unit, dirs)
		if err == nil {
			return nil
		}

		if Classify(err) == KindTransient {
			e.logger.Warn("unit attempt failed, will retry",
				slog.String("plan_id", plan.ID),
				slog.String("rel_path", unit.RelPath),
				slog.Int("attempt", unit.Attempts),
				slog.String("error", err.Error()),
			)

			return retry.RetryableError(err)
		}

		return err
	})
}

// attempt performs one try of the unit's transfer.
func (e *Executor) attempt(ctx context.Context, plan *Plan, unit *Unit, dirs *DirEnsurer) error {
	if plan.Direction == DirectionUpload {
		parentID, err := dirs.Ensure(ctx, plan.parentRel(unit))
		if err != nil {
			return err
		}

		name := unit.RelPath
		if i := len(unit.ParentRel); i > 0 {
			name = unit.RelPath[i+1:]
		}

		_, err = e.api.UploadFile(ctx, parentID, unit.LocalPath, name)

		return err
	}

	destPath := filepath.Join(plan.TargetRoot, filepath.FromSlash(plan.destRel(unit)))

	if err := os.MkdirAll(filepath.Dir(destPath), dirPermissions); err != nil {
		return fmt.Errorf("transfer: creating local directory for %q: %w", unit.RelPath, err)
	}

	return e.api.DownloadFile(ctx, unit.Remote, destPath)
}

// failUnit marks a unit terminally failed.
func (e *Executor) failUnit(plan *Plan, unit *Unit, err error) {
	unit.Status = UnitFailed
	unit.Err = err

	e.logger.Warn("unit failed",
		slog.String("plan_id", plan.ID),
		slog.String("rel_path", unit.RelPath),
		slog.String("kind", Classify(err).String()),
		slog.String("error", err.Error()),
	)
}

// markDone records a completed unit in the journal. Journal write failures
// are logged, not fatal — the transfer itself succeeded.
func (e *Executor) markDone(plan *Plan, unit *Unit) {
	if e.journal == nil {
		return
	}

	key := PlanKey(plan.Direction, plan.SourceRoot, plan.TargetRoot)

	// Background context: the unit finished even if the caller canceled.
	if err := e.journal.MarkDone(context.Background(), key, plan.destRel(unit)); err != nil {
		e.logger.Warn("journal write failed",
			slog.String("plan_id", plan.ID),
			slog.String("rel_path", unit.RelPath),
			slog.String("error", err.Error()),
		)
	}
}
