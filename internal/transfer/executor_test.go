package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpan115/pan115-go/internal/pan"
)

// uploadPlan builds a flat upload plan with n units for executor tests.
func uploadPlan(n int) *Plan {
	plan := &Plan{
		ID:         "test-plan",
		Direction:  DirectionUpload,
		SourceRoot: "/src",
		TargetRoot: pan.RootID,
	}

	for i := range n {
		plan.Units = append(plan.Units, Unit{
			RelPath:   fmt.Sprintf("f%d.bin", i),
			LocalPath: fmt.Sprintf("/src/f%d.bin", i),
			Size:      1,
		})
	}

	return plan
}

// fastExecutor builds an Executor with a negligible retry backoff.
func fastExecutor(api Remote, journal *Journal, concurrency int) *Executor {
	e := NewExecutor(api, journal, concurrency, quietLogger())
	e.retryBase = time.Microsecond

	return e
}

func TestExecute_AllSucceed(t *testing.T) {
	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, parentID, _, name string) (*pan.Item, error) {
			assert.Equal(t, pan.RootID, parentID)
			return &pan.Item{ID: "1", Name: name}, nil
		},
	}

	plan := uploadPlan(5)

	res, err := fastExecutor(api, nil, 2).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 5)
	assert.Empty(t, res.Failed)
	assert.Equal(t, int32(5), api.uploadFileCalls.Load())

	for i := range plan.Units {
		assert.Equal(t, UnitDone, plan.Units[i].Status)
		assert.Equal(t, 1, plan.Units[i].Attempts)
	}
}

func TestExecute_PartialFailure(t *testing.T) {
	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, _, _, name string) (*pan.Item, error) {
			if name == "f1.bin" {
				return nil, fmt.Errorf("gone: %w", pan.ErrNotFound)
			}

			return &pan.Item{ID: "1", Name: name}, nil
		},
	}

	plan := uploadPlan(4)

	res, err := fastExecutor(api, nil, 2).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 3)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "f1.bin", res.Failed[0].RelPath)
	assert.ErrorIs(t, res.Failed[0].Err, pan.ErrNotFound)
	assert.Equal(t, len(plan.Units), len(res.Succeeded)+len(res.Failed))
}

func TestExecute_TransientRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, _, _, name string) (*pan.Item, error) {
			if calls.Add(1) < 3 {
				return nil, fmt.Errorf("flaky: %w", pan.ErrServerError)
			}

			return &pan.Item{ID: "1", Name: name}, nil
		},
	}

	plan := uploadPlan(1)

	res, err := fastExecutor(api, nil, 1).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 1)
	assert.Equal(t, 3, plan.Units[0].Attempts)
	assert.Equal(t, UnitDone, plan.Units[0].Status)
}

func TestExecute_TransientBudgetExhausted(t *testing.T) {
	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, _, _, _ string) (*pan.Item, error) {
			return nil, fmt.Errorf("down: %w", pan.ErrServerError)
		},
	}

	plan := uploadPlan(1)

	res, err := fastExecutor(api, nil, 1).Execute(context.Background(), plan)
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, maxAttempts, plan.Units[0].Attempts)
	assert.ErrorIs(t, plan.Units[0].Err, pan.ErrServerError)
}

func TestExecute_NonRetryableSingleAttempt(t *testing.T) {
	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, _, _, _ string) (*pan.Item, error) {
			return nil, fmt.Errorf("no: %w", pan.ErrForbidden)
		},
	}

	plan := uploadPlan(1)

	res, err := fastExecutor(api, nil, 1).Execute(context.Background(), plan)
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, plan.Units[0].Attempts, "permanent failures get no retries")
}

func TestExecute_CancellationStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, _, _, name string) (*pan.Item, error) {
			// The in-flight unit finishes; everything after sees the
			// canceled context before dispatch.
			cancel()
			return &pan.Item{ID: "1", Name: name}, nil
		},
	}

	plan := uploadPlan(5)

	res, err := fastExecutor(api, nil, 1).Execute(ctx, plan)
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 1)
	assert.Len(t, res.Failed, 4)

	for _, u := range res.Failed {
		assert.Equal(t, KindCancelled, Classify(u.Err))
	}

	assert.Equal(t, int32(1), api.uploadFileCalls.Load())
}

func TestExecute_AuthExpiryHaltsRemainingUnits(t *testing.T) {
	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, _, _, _ string) (*pan.Item, error) {
			return nil, fmt.Errorf("token dead: %w", pan.ErrAuthExpired)
		},
	}

	plan := uploadPlan(5)

	res, err := fastExecutor(api, nil, 1).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Empty(t, res.Succeeded)
	assert.Len(t, res.Failed, 5)

	for _, u := range res.Failed {
		assert.Equal(t, KindAuthExpired, Classify(u.Err))
	}

	// Only the first unit reached the API; the halt stopped the rest.
	assert.Equal(t, int32(1), api.uploadFileCalls.Load())
}

func TestExecute_EmptyUploadPlanCreatesRoot(t *testing.T) {
	mem := newMemoryRemote()

	plan := &Plan{
		ID:         "empty",
		Direction:  DirectionUpload,
		SourceRoot: "/src/photos",
		TargetRoot: pan.RootID,
		RootName:   "photos",
	}

	res, err := fastExecutor(mem.asFake(), nil, 1).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 1, mem.createCalls, "the root directory appears even with nothing to transfer")
}

func TestExecute_EmptyDownloadPlanCreatesRoot(t *testing.T) {
	target := t.TempDir()

	plan := &Plan{
		ID:         "empty",
		Direction:  DirectionDownload,
		SourceRoot: "50",
		TargetRoot: target,
		RootName:   "backup",
	}

	_, err := fastExecutor(&fakeRemote{}, nil, 1).Execute(context.Background(), plan)
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(target, "backup"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestExecute_DownloadWritesUnderRoot(t *testing.T) {
	target := t.TempDir()

	var gotDest atomic.Value

	api := &fakeRemote{
		downloadFileFn: func(_ context.Context, _ *pan.Item, destPath string) error {
			gotDest.Store(destPath)
			return os.WriteFile(destPath, []byte("x"), 0o600)
		},
	}

	plan := &Plan{
		ID:         "dl",
		Direction:  DirectionDownload,
		SourceRoot: "50",
		TargetRoot: target,
		RootName:   "backup",
		Units: []Unit{{
			RelPath:   "inner/deep.bin",
			ParentRel: "inner",
			Remote:    &pan.Item{ID: "53", Name: "deep.bin", PickCode: "pc"},
		}},
	}

	res, err := fastExecutor(api, nil, 1).Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 1)

	want := filepath.Join(target, "backup", "inner", "deep.bin")
	assert.Equal(t, want, gotDest.Load())

	_, statErr := os.Stat(want)
	assert.NoError(t, statErr)
}

func TestExecute_ResumeSkipsJournaledUnits(t *testing.T) {
	journal, err := OpenJournal(context.Background(), filepath.Join(t.TempDir(), "journal.db"), quietLogger())
	require.NoError(t, err)

	defer journal.Close()

	plan := uploadPlan(3)
	key := PlanKey(plan.Direction, plan.SourceRoot, plan.TargetRoot)
	require.NoError(t, journal.MarkDone(context.Background(), key, "f0.bin"))

	var uploaded []string

	api := &fakeRemote{
		uploadFileFn: func(_ context.Context, _, _, name string) (*pan.Item, error) {
			uploaded = append(uploaded, name)
			return &pan.Item{ID: "1", Name: name}, nil
		},
	}

	res, err := fastExecutor(api, journal, 1).Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Len(t, res.Succeeded, 3, "journaled units count as succeeded")
	assert.ElementsMatch(t, []string{"f1.bin", "f2.bin"}, uploaded, "f0.bin must not be re-sent")

	// The fresh completions were journaled too.
	done, err := journal.DoneUnits(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, done, 3)
}
