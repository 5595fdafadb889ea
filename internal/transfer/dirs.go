package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cpan115/pan115-go/internal/pan"
)

// DirEnsurer provides get-or-create for remote directories. Concurrent
// Ensure calls for the same relative path collapse onto a single in-flight
// creation via singleflight, which is the serialization that prevents
// duplicate-directory races between workers. Resolved ids are cached for
// the ensurer's lifetime, so re-running against the same destination never
// creates a second copy.
type DirEnsurer struct {
	api    Remote
	group  singleflight.Group
	logger *slog.Logger

	mu  sync.Mutex
	ids map[string]string // rel path -> remote directory id
}

// NewDirEnsurer creates a DirEnsurer rooted at the remote directory
// rootID. Ensure("") resolves to rootID itself.
func NewDirEnsurer(api Remote, rootID string, logger *slog.Logger) *DirEnsurer {
	if logger == nil {
		logger = slog.Default()
	}

	return &DirEnsurer{
		api:    api,
		logger: logger,
		ids:    map[string]string{"": rootID},
	}
}

// Ensure returns the remote id of the directory at rel (relative to the
// ensurer's root, "/"-separated), creating it and any missing parents.
func (d *DirEnsurer) Ensure(ctx context.Context, rel string) (string, error) {
	rel = strings.Trim(rel, "/")

	d.mu.Lock()
	id, ok := d.ids[rel]
	d.mu.Unlock()

	if ok {
		return id, nil
	}

	v, err, _ := d.group.Do(rel, func() (any, error) {
		return d.ensureUncached(ctx, rel)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// ensureUncached ensures the parent first, then performs the check-and-
// create step for the leaf. Runs at most once concurrently per rel path.
func (d *DirEnsurer) ensureUncached(ctx context.Context, rel string) (string, error) {
	// Another caller may have finished while we waited on singleflight.
	d.mu.Lock()
	if id, ok := d.ids[rel]; ok {
		d.mu.Unlock()
		return id, nil
	}
	d.mu.Unlock()

	parentRel, name := splitRel(rel)

	parentID, err := d.Ensure(ctx, parentRel)
	if err != nil {
		return "", err
	}

	id, err := d.getOrCreate(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("transfer: ensuring directory %q: %w", rel, err)
	}

	d.mu.Lock()
	d.ids[rel] = id
	d.mu.Unlock()

	return id, nil
}

// getOrCreate lists the parent for an existing directory of that name and
// creates one if absent. A duplicate-name rejection from a concurrent
// creator elsewhere is resolved by re-listing.
func (d *DirEnsurer) getOrCreate(ctx context.Context, parentID, name string) (string, error) {
	if id, err := d.findDir(ctx, parentID, name); err != nil || id != "" {
		return id, err
	}

	created, err := d.api.CreateFolder(ctx, parentID, name)
	if err == nil {
		d.logger.Debug("created remote directory",
			slog.String("parent_id", parentID),
			slog.String("name", name),
			slog.String("id", created.ID),
		)

		return created.ID, nil
	}

	if errors.Is(err, pan.ErrConflict) || errors.Is(err, pan.ErrBadRequest) {
		if id, findErr := d.findDir(ctx, parentID, name); findErr == nil && id != "" {
			return id, nil
		}
	}

	return "", err
}

// findDir returns the id of the named subdirectory of parentID, or "".
func (d *DirEnsurer) findDir(ctx context.Context, parentID, name string) (string, error) {
	children, err := d.api.ListChildren(ctx, parentID)
	if err != nil {
		return "", err
	}

	for i := range children {
		if children[i].IsFolder && children[i].Name == name {
			return children[i].ID, nil
		}
	}

	return "", nil
}

// splitRel splits "a/b/c" into ("a/b", "c").
func splitRel(rel string) (parent, name string) {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i], rel[i+1:]
	}

	return "", rel
}
