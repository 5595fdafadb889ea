// Package transfer implements the transfer orchestration core: resolving
// user-supplied paths or identifiers to remote objects, planning a set of
// per-file transfer units for a tree, and executing the plan with bounded
// parallelism, per-unit retries, and crash-resumable journaling.
package transfer

import (
	"context"

	"github.com/cpan115/pan115-go/internal/pan"
)

// Remote is the surface of the API client the transfer core uses.
// *pan.Client satisfies it; tests substitute fakes.
type Remote interface {
	GetItem(ctx context.Context, id string) (*pan.Item, error)
	ListChildren(ctx context.Context, dirID string) ([]pan.Item, error)
	CreateFolder(ctx context.Context, parentID, name string) (*pan.Item, error)
	UploadFile(ctx context.Context, parentID, localPath, name string) (*pan.Item, error)
	DownloadFile(ctx context.Context, item *pan.Item, destPath string) error
}

// Direction says which way a plan moves bytes.
type Direction int

const (
	DirectionUpload Direction = iota
	DirectionDownload
)

func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	case DirectionDownload:
		return "download"
	default:
		return "unknown"
	}
}

// UnitStatus is the lifecycle state of a single transfer unit.
// Pending -> InProgress -> {Done | Failed}. A unit re-enters InProgress
// from a transient failure only within the executor's retry budget.
type UnitStatus int

const (
	UnitPending UnitStatus = iota
	UnitInProgress
	UnitDone
	UnitFailed
)

func (s UnitStatus) String() string {
	switch s {
	case UnitPending:
		return "pending"
	case UnitInProgress:
		return "in_progress"
	case UnitDone:
		return "done"
	case UnitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Unit is one file's movement between local and remote storage.
// Directories are never units — they are created as side effects.
type Unit struct {
	// RelPath is the destination path relative to the plan root,
	// "/"-separated. ParentRel is its directory part ("" at the root).
	RelPath   string
	ParentRel string
	Size      int64

	// LocalPath is the absolute local source (upload only).
	LocalPath string

	// Remote is the source item (download only).
	Remote *pan.Item

	Status   UnitStatus
	Attempts int
	Err      error
}

// Plan is the complete, immutable set of transfer units computed for one
// upload or download request. The executor owns it during execution.
type Plan struct {
	ID        string
	Direction Direction

	// SourceRoot identifies the source: a local absolute path for uploads,
	// a remote object id for downloads.
	SourceRoot string

	// TargetRoot identifies the destination: a remote directory id for
	// uploads, a local directory path for downloads.
	TargetRoot string

	// RootName is the source root directory's name, created under
	// TargetRoot even when the tree is empty. Empty when the source root
	// is a single file.
	RootName string

	Units []Unit
}

// destRel returns a unit's destination path relative to TargetRoot,
// including the plan's root directory when there is one.
func (p *Plan) destRel(u *Unit) string {
	return joinRel(p.RootName, u.RelPath)
}

// parentRel returns a unit's destination parent directory relative to
// TargetRoot.
func (p *Plan) parentRel(u *Unit) string {
	return joinRel(p.RootName, u.ParentRel)
}

func joinRel(base, rel string) string {
	switch {
	case base == "":
		return rel
	case rel == "":
		return base
	default:
		return base + "/" + rel
	}
}
