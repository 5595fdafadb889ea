package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/cpan115/pan115-go/internal/pan"
)

// fakeRemote is a test double for the Remote interface. Each method counts
// its calls and delegates to an optional function field; methods without a
// configured function fail the call.
type fakeRemote struct {
	getItemFn      func(ctx context.Context, id string) (*pan.Item, error)
	listChildrenFn func(ctx context.Context, dirID string) ([]pan.Item, error)
	createFolderFn func(ctx context.Context, parentID, name string) (*pan.Item, error)
	uploadFileFn   func(ctx context.Context, parentID, localPath, name string) (*pan.Item, error)
	downloadFileFn func(ctx context.Context, item *pan.Item, destPath string) error

	getItemCalls      atomic.Int32
	listChildrenCalls atomic.Int32
	createFolderCalls atomic.Int32
	uploadFileCalls   atomic.Int32
	downloadFileCalls atomic.Int32
}

var errUnexpectedCall = errors.New("unexpected remote call")

func (f *fakeRemote) GetItem(ctx context.Context, id string) (*pan.Item, error) {
	f.getItemCalls.Add(1)

	if f.getItemFn == nil {
		return nil, errUnexpectedCall
	}

	return f.getItemFn(ctx, id)
}

func (f *fakeRemote) ListChildren(ctx context.Context, dirID string) ([]pan.Item, error) {
	f.listChildrenCalls.Add(1)

	if f.listChildrenFn == nil {
		return nil, errUnexpectedCall
	}

	return f.listChildrenFn(ctx, dirID)
}

func (f *fakeRemote) CreateFolder(ctx context.Context, parentID, name string) (*pan.Item, error) {
	f.createFolderCalls.Add(1)

	if f.createFolderFn == nil {
		return nil, errUnexpectedCall
	}

	return f.createFolderFn(ctx, parentID, name)
}

func (f *fakeRemote) UploadFile(ctx context.Context, parentID, localPath, name string) (*pan.Item, error) {
	f.uploadFileCalls.Add(1)

	if f.uploadFileFn == nil {
		return nil, errUnexpectedCall
	}

	return f.uploadFileFn(ctx, parentID, localPath, name)
}

func (f *fakeRemote) DownloadFile(ctx context.Context, item *pan.Item, destPath string) error {
	f.downloadFileCalls.Add(1)

	if f.downloadFileFn == nil {
		return errUnexpectedCall
	}

	return f.downloadFileFn(ctx, item, destPath)
}

// quietLogger discards output so tests stay silent.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
