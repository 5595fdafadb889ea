package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/cpan115/pan115-go/internal/pan"
)

// Planner turns a resolved source and destination into an ordered plan of
// per-file transfer units. It walks trees depth-first pre-order, visiting
// siblings in whatever order the underlying listing returns them.
// Planning is fail-fast: any resolution or listing error aborts the whole
// request before a single byte moves.
type Planner struct {
	api    Remote
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(api Remote, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Planner{api: api, logger: logger}
}

// PlanUpload plans moving a local file or tree into the remote directory
// targetDir. Local names are NFC-normalized so macOS (NFD) and Linux
// spellings of the same name land on one remote spelling.
func (p *Planner) PlanUpload(ctx context.Context, localRoot string, targetDir *pan.Item) (*Plan, error) {
	if targetDir == nil || targetDir.ID == "" {
		return nil, fmt.Errorf("transfer: upload target missing: %w", ErrPlanInvalid)
	}

	if !targetDir.IsFolder {
		return nil, fmt.Errorf("transfer: upload target %q is not a directory: %w",
			targetDir.Name, ErrPlanInvalid)
	}

	absRoot, err := filepath.Abs(localRoot)
	if err != nil {
		return nil, fmt.Errorf("transfer: resolving %q: %w", localRoot, err)
	}

	entry, err := ResolveLocal(absRoot)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:         uuid.NewString(),
		Direction:  DirectionUpload,
		SourceRoot: absRoot,
		TargetRoot: targetDir.ID,
	}

	if !entry.IsDir {
		plan.Units = []Unit{{
			RelPath:   localName(filepath.Base(absRoot)),
			Size:      entry.Size,
			LocalPath: absRoot,
		}}
	} else {
		plan.RootName = localName(filepath.Base(absRoot))

		if err := p.walkLocal(ctx, plan, absRoot, ""); err != nil {
			return nil, err
		}
	}

	p.logger.Info("upload planned",
		slog.String("plan_id", plan.ID),
		slog.String("source", absRoot),
		slog.String("target_id", targetDir.ID),
		slog.Int("units", len(plan.Units)),
	)

	return plan, nil
}

// walkLocal recursively emits one unit per regular file under dir.
// rel is the path of dir relative to the plan root ("" at the top).
func (p *Planner) walkLocal(ctx context.Context, plan *Plan, dir, rel string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transfer: planning canceled: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("transfer: reading directory %q: %w", dir, err)
	}

	for _, entry := range entries {
		name := localName(entry.Name())
		childRel := joinRel(rel, name)
		childPath := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if err := p.walkLocal(ctx, plan, childPath, childRel); err != nil {
				return err
			}

			continue
		}

		if !entry.Type().IsRegular() {
			p.logger.Warn("skipping non-regular file", slog.String("path", childPath))
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			return fmt.Errorf("transfer: stating %q: %w", childPath, err)
		}

		plan.Units = append(plan.Units, Unit{
			RelPath:   childRel,
			ParentRel: rel,
			Size:      fi.Size(),
			LocalPath: childPath,
		})
	}

	return nil
}

// PlanDownload plans moving a remote file or tree into the local directory
// localTarget.
func (p *Planner) PlanDownload(ctx context.Context, root *pan.Item, localTarget string) (*Plan, error) {
	if root == nil || root.ID == "" {
		return nil, fmt.Errorf("transfer: download source missing: %w", ErrPlanInvalid)
	}

	if localTarget == "" {
		return nil, fmt.Errorf("transfer: download target missing: %w", ErrPlanInvalid)
	}

	absTarget, err := filepath.Abs(localTarget)
	if err != nil {
		return nil, fmt.Errorf("transfer: resolving %q: %w", localTarget, err)
	}

	// The target may not exist yet (the executor creates it), but an
	// existing file there can never hold a tree.
	if fi, statErr := os.Stat(absTarget); statErr == nil && !fi.IsDir() {
		return nil, fmt.Errorf("transfer: download target %q is a file: %w", absTarget, ErrPlanInvalid)
	}

	plan := &Plan{
		ID:         uuid.NewString(),
		Direction:  DirectionDownload,
		SourceRoot: root.ID,
		TargetRoot: absTarget,
	}

	if !root.IsFolder {
		item := *root
		plan.Units = []Unit{{
			RelPath: root.Name,
			Size:    root.Size,
			Remote:  &item,
		}}
	} else {
		if root.ID != pan.RootID {
			plan.RootName = root.Name
		}

		if err := p.walkRemote(ctx, plan, root.ID, ""); err != nil {
			return nil, err
		}
	}

	p.logger.Info("download planned",
		slog.String("plan_id", plan.ID),
		slog.String("source_id", root.ID),
		slog.String("target", absTarget),
		slog.Int("units", len(plan.Units)),
	)

	return plan, nil
}

// walkRemote recursively emits one unit per remote file under dirID.
func (p *Planner) walkRemote(ctx context.Context, plan *Plan, dirID, rel string) error {
	children, err := p.api.ListChildren(ctx, dirID)
	if err != nil {
		return fmt.Errorf("transfer: listing remote directory: %w", err)
	}

	for i := range children {
		child := children[i]
		childRel := joinRel(rel, child.Name)

		if child.IsFolder {
			if err := p.walkRemote(ctx, plan, child.ID, childRel); err != nil {
				return err
			}

			continue
		}

		plan.Units = append(plan.Units, Unit{
			RelPath:   childRel,
			ParentRel: rel,
			Size:      child.Size,
			Remote:    &child,
		})
	}

	return nil
}

// localName normalizes a local file name to NFC.
func localName(name string) string {
	return norm.NFC.String(name)
}
