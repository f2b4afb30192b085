package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := Run{
		ID:        "run-1",
		Method:    "L-BFGS-B",
		Kernel:    "rbf",
		FinalLoss: 3.25,
		Hyperparameters: map[string]float64{
			"lengthscale":    0.9,
			"outputscale":    1.4,
			"noise_variance": 0.05,
		},
		Iterations:      17,
		DurationSeconds: 0.042,
		CreatedAt:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, ok, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run.Method, got.Method)
	assert.Equal(t, run.Kernel, got.Kernel)
	assert.Equal(t, run.FinalLoss, got.FinalLoss)
	assert.Equal(t, run.Hyperparameters, got.Hyperparameters)
	assert.Equal(t, run.Iterations, got.Iterations)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))
}

func TestGetRunMissing(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetRun(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveRunRequiresID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveRun(context.Background(), Run{}))
}

func TestSaveRunOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := Run{ID: "run-1", Method: "adam", Kernel: "rbf", FinalLoss: 10}
	require.NoError(t, s.SaveRun(ctx, run))

	run.FinalLoss = 5
	require.NoError(t, s.SaveRun(ctx, run))

	got, ok, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5.0, got.FinalLoss)
}

func TestListRunsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.SaveRun(ctx, Run{
			ID:        id,
			Method:    "L-BFGS-B",
			Kernel:    "matern52",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[2].ID)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "new", limited[0].ID)
}
