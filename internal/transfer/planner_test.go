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

func remoteFolder(id, name string) *pan.Item {
	return &pan.Item{ID: id, Name: name, IsFolder: true}
}

func unitRelPaths(plan *Plan) []string {
	paths := make([]string, len(plan.Units))
	for i := range plan.Units {
		paths[i] = plan.Units[i].RelPath
	}

	return paths
}

func TestPlanUpload_Tree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "photos")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aa"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bbb"), 0o600))

	p := NewPlanner(&fakeRemote{}, quietLogger())

	plan, err := p.PlanUpload(context.Background(), root, remoteFolder("77", "dest"))
	require.NoError(t, err)

	assert.Equal(t, DirectionUpload, plan.Direction)
	assert.Equal(t, "77", plan.TargetRoot)
	assert.Equal(t, "photos", plan.RootName)
	assert.NotEmpty(t, plan.ID)

	require.Len(t, plan.Units, 2)
	assert.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, unitRelPaths(plan))

	for i := range plan.Units {
		u := plan.Units[i]
		if u.RelPath == "sub/b.txt" {
			assert.Equal(t, "sub", u.ParentRel)
			assert.Equal(t, int64(3), u.Size)
			assert.Equal(t, filepath.Join(root, "sub", "b.txt"), u.LocalPath)
		}
	}
}

func TestPlanUpload_SingleFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o600))

	p := NewPlanner(&fakeRemote{}, quietLogger())

	plan, err := p.PlanUpload(context.Background(), file, remoteFolder("0", "/"))
	require.NoError(t, err)

	assert.Empty(t, plan.RootName, "single files transfer without a wrapping directory")
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "movie.mkv", plan.Units[0].RelPath)
	assert.Equal(t, "", plan.Units[0].ParentRel)
	assert.Equal(t, file, plan.Units[0].LocalPath)
}

func TestPlanUpload_EmptyDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.Mkdir(root, 0o755))

	p := NewPlanner(&fakeRemote{}, quietLogger())

	plan, err := p.PlanUpload(context.Background(), root, remoteFolder("0", "/"))
	require.NoError(t, err)
	assert.Empty(t, plan.Units)
	assert.Equal(t, "empty", plan.RootName, "the root directory is still created at the target")
}

func TestPlanUpload_TargetNotDirectory(t *testing.T) {
	p := NewPlanner(&fakeRemote{}, quietLogger())

	_, err := p.PlanUpload(context.Background(), t.TempDir(), &pan.Item{ID: "5", Name: "file.bin"})
	assert.ErrorIs(t, err, ErrPlanInvalid)

	_, err = p.PlanUpload(context.Background(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestPlanUpload_MissingSource(t *testing.T) {
	p := NewPlanner(&fakeRemote{}, quietLogger())

	_, err := p.PlanUpload(context.Background(), filepath.Join(t.TempDir(), "nope"), remoteFolder("0", "/"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPlanDownload_Tree(t *testing.T) {
	tree := map[string][]pan.Item{
		"50": {
			{ID: "51", Name: "inner", IsFolder: true},
			{ID: "52", Name: "top.bin", Size: 10, PickCode: "pc-52"},
		},
		"51": {
			{ID: "53", Name: "deep.bin", Size: 20, PickCode: "pc-53"},
		},
	}

	api := &fakeRemote{
		listChildrenFn: func(_ context.Context, dirID string) ([]pan.Item, error) {
			return tree[dirID], nil
		},
	}

	p := NewPlanner(api, quietLogger())

	plan, err := p.PlanDownload(context.Background(), remoteFolder("50", "backup"), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DirectionDownload, plan.Direction)
	assert.Equal(t, "backup", plan.RootName)
	assert.ElementsMatch(t, []string{"top.bin", "inner/deep.bin"}, unitRelPaths(plan))

	for i := range plan.Units {
		u := plan.Units[i]
		require.NotNil(t, u.Remote)

		if u.RelPath == "inner/deep.bin" {
			assert.Equal(t, "53", u.Remote.ID)
			assert.Equal(t, "inner", u.ParentRel)
		}
	}
}

func TestPlanDownload_FromServiceRoot(t *testing.T) {
	api := &fakeRemote{
		listChildrenFn: func(_ context.Context, _ string) ([]pan.Item, error) {
			return []pan.Item{{ID: "1", Name: "a.bin", PickCode: "pc"}}, nil
		},
	}

	p := NewPlanner(api, quietLogger())

	plan, err := p.PlanDownload(context.Background(), rootItem(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, plan.RootName, "the service root itself never becomes a local directory name")
}

func TestPlanDownload_SingleFile(t *testing.T) {
	item := &pan.Item{ID: "9", Name: "a.iso", Size: 4096, PickCode: "pc-9"}

	p := NewPlanner(&fakeRemote{}, quietLogger())

	plan, err := p.PlanDownload(context.Background(), item, t.TempDir())
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "a.iso", plan.Units[0].RelPath)
	assert.Equal(t, item.ID, plan.Units[0].Remote.ID)
	assert.Empty(t, plan.RootName)
}

func TestPlanDownload_TargetIsFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	p := NewPlanner(&fakeRemote{}, quietLogger())

	_, err := p.PlanDownload(context.Background(), remoteFolder("50", "backup"), target)
	assert.ErrorIs(t, err, ErrPlanInvalid)
}

func TestPlanDownload_ListingErrorAborts(t *testing.T) {
	api := &fakeRemote{
		listChildrenFn: func(_ context.Context, _ string) ([]pan.Item, error) {
			return nil, pan.ErrServerError
		},
	}

	p := NewPlanner(api, quietLogger())

	_, err := p.PlanDownload(context.Background(), remoteFolder("50", "backup"), t.TempDir())
	assert.ErrorIs(t, err, pan.ErrServerError)
}

func TestJoinRel(t *testing.T) {
	assert.Equal(t, "a/b", joinRel("a", "b"))
	assert.Equal(t, "b", joinRel("", "b"))
	assert.Equal(t, "a", joinRel("a", ""))
	assert.Equal(t, "", joinRel("", ""))
}

func TestLocalName_NormalizesNFC(t *testing.T) {
	// NFD input (e + combining acute) normalizes to the single NFC rune.
	assert.Equal(t, "\u00e9.txt", localName("e\u0301.txt"))
	assert.Equal(t, "plain.txt", localName("plain.txt"))
}
