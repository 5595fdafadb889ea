package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpan115/pan115-go/internal/pan"
)

func TestResolveRemote_ByID(t *testing.T) {
	api := &fakeRemote{
		getItemFn: func(_ context.Context, id string) (*pan.Item, error) {
			return &pan.Item{ID: id, Name: "docs", IsFolder: true}, nil
		},
	}

	item, err := ResolveRemote(context.Background(), api, "12345", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "12345", item.ID)
	assert.Equal(t, int32(0), api.listChildrenCalls.Load(), "id resolution must not list")
}

func TestResolveRemote_RootID(t *testing.T) {
	api := &fakeRemote{} // any call fails the test

	item, err := ResolveRemote(context.Background(), api, pan.RootID, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, pan.RootID, item.ID)
	assert.True(t, item.IsFolder)
	assert.Equal(t, int32(0), api.getItemCalls.Load(), "root id must be synthesized, not fetched")
}

func TestResolveRemote_ByPath(t *testing.T) {
	tree := map[string][]pan.Item{
		pan.RootID: {
			{ID: "10", Name: "videos", IsFolder: true},
			{ID: "11", Name: "docs", IsFolder: true},
		},
		"10": {
			{ID: "20", Name: "4.rar", Size: 99},
		},
	}

	api := &fakeRemote{
		listChildrenFn: func(_ context.Context, dirID string) ([]pan.Item, error) {
			return tree[dirID], nil
		},
	}

	item, err := ResolveRemote(context.Background(), api, "/videos/4.rar", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "20", item.ID)
	assert.Equal(t, int64(99), item.Size)
	assert.Equal(t, int32(2), api.listChildrenCalls.Load(), "one listing per path segment")
}

func TestResolveRemote_TrailingSlash(t *testing.T) {
	api := &fakeRemote{
		listChildrenFn: func(_ context.Context, _ string) ([]pan.Item, error) {
			return []pan.Item{{ID: "10", Name: "videos", IsFolder: true}}, nil
		},
	}

	item, err := ResolveRemote(context.Background(), api, "/videos/", quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "10", item.ID)
}

func TestResolveRemote_CaseSensitive(t *testing.T) {
	api := &fakeRemote{
		listChildrenFn: func(_ context.Context, _ string) ([]pan.Item, error) {
			return []pan.Item{{ID: "10", Name: "Videos", IsFolder: true}}, nil
		},
	}

	_, err := ResolveRemote(context.Background(), api, "/videos", quietLogger())
	assert.ErrorIs(t, err, pan.ErrNotFound)
}

func TestResolveRemote_FileMidPath(t *testing.T) {
	api := &fakeRemote{
		listChildrenFn: func(_ context.Context, _ string) ([]pan.Item, error) {
			return []pan.Item{{ID: "20", Name: "notes.txt"}}, nil
		},
	}

	_, err := ResolveRemote(context.Background(), api, "/notes.txt/deeper", quietLogger())
	assert.ErrorIs(t, err, pan.ErrNotFound)
}

func TestResolveRemote_Invalid(t *testing.T) {
	api := &fakeRemote{}

	_, err := ResolveRemote(context.Background(), api, "", quietLogger())
	assert.ErrorIs(t, err, ErrPlanInvalid)

	_, err = ResolveRemote(context.Background(), api, "relative/path", quietLogger())
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestResolveLocal(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0o600))

	entry, err := ResolveLocal(dir)
	require.NoError(t, err)
	assert.True(t, entry.IsDir)

	entry, err = ResolveLocal(file)
	require.NoError(t, err)
	assert.False(t, entry.IsDir)
	assert.Equal(t, int64(3), entry.Size)

	_, err = ResolveLocal(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
