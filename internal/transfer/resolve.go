package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cpan115/pan115-go/internal/pan"
)

// rootItem is the synthesized root directory. The service has no info
// endpoint for id "0", so the resolver never looks it up.
func rootItem() *pan.Item {
	return &pan.Item{ID: pan.RootID, Name: "/", IsFolder: true}
}

// isObjectID reports whether the input has pure identifier syntax
// (all digits). Remote paths always contain a separator, so the two
// forms cannot collide.
func isObjectID(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// ResolveRemote maps a user-supplied string to a remote item. Pure-digit
// input is treated as a direct id lookup; anything else is resolved as an
// absolute remote path by walking segments, one listing call per segment.
// Matching is case-sensitive and exact; a trailing separator is tolerated.
func ResolveRemote(ctx context.Context, api Remote, pathOrID string, logger *slog.Logger) (*pan.Item, error) {
	if pathOrID == "" {
		return nil, fmt.Errorf("transfer: empty remote reference: %w", ErrPlanInvalid)
	}

	if isObjectID(pathOrID) {
		if pathOrID == pan.RootID {
			return rootItem(), nil
		}

		logger.Debug("resolving remote reference by id", slog.String("id", pathOrID))

		return api.GetItem(ctx, pathOrID)
	}

	if !strings.HasPrefix(pathOrID, "/") {
		return nil, fmt.Errorf("transfer: remote path %q is not absolute: %w", pathOrID, ErrPlanInvalid)
	}

	return resolveRemotePath(ctx, api, pathOrID, logger)
}

// resolveRemotePath walks an absolute remote path segment by segment.
func resolveRemotePath(ctx context.Context, api Remote, remotePath string, logger *slog.Logger) (*pan.Item, error) {
	logger.Debug("resolving remote reference by path", slog.String("path", remotePath))

	current := rootItem()

	for _, segment := range strings.Split(strings.Trim(remotePath, "/"), "/") {
		if segment == "" {
			continue
		}

		if !current.IsFolder {
			return nil, fmt.Errorf("transfer: %q in %q is not a directory: %w",
				current.Name, remotePath, pan.ErrNotFound)
		}

		children, err := api.ListChildren(ctx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("transfer: listing %q while resolving %q: %w",
				current.Name, remotePath, err)
		}

		next := matchChild(children, segment)
		if next == nil {
			return nil, fmt.Errorf("transfer: %q not found in %q: %w",
				segment, remotePath, pan.ErrNotFound)
		}

		current = next
	}

	return current, nil
}

// matchChild finds the first child with an exactly matching name. The
// service permits duplicate names in a directory; first match wins.
func matchChild(children []pan.Item, name string) *pan.Item {
	for i := range children {
		if children[i].Name == name {
			return &children[i]
		}
	}

	return nil
}

// LocalEntry is the result of resolving a local path.
type LocalEntry struct {
	Path  string // absolute
	IsDir bool
	Size  int64
}

// ResolveLocal stats a local path. Filesystem error conditions
// (fs.ErrNotExist, fs.ErrPermission) pass through for classification.
func ResolveLocal(localPath string) (*LocalEntry, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("transfer: resolving local path: %w", err)
	}

	return &LocalEntry{Path: localPath, IsDir: fi.IsDir(), Size: fi.Size()}, nil
}
