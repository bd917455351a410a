package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	run := Run{
		ID:           uuid.NewString(),
		AOI:          "Adilabad",
		Epoch1:       "2000",
		Epoch2:       "2023",
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Minute),
		Status:       StatusSucceeded,
		Seed:         42,
		Samples:      1000,
		Accuracy:     0.97,
		Kappa:        0.9,
		TrainingOnly: true,
		LossKm2:      12.5,
		StableKm2:    15000,
		GainKm2:      30.25,
		AOIKm2:       16128,
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.AOI, got.AOI)
	assert.Equal(t, run.Samples, got.Samples)
	assert.Equal(t, run.GainKm2, got.GainKm2)
	assert.True(t, got.TrainingOnly)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveRun(ctx, Run{
			ID:         uuid.NewString(),
			AOI:        "aoi",
			StartedAt:  base.AddDate(0, 0, i),
			FinishedAt: base.AddDate(0, 0, i),
			Status:     StatusFailed,
			Error:      "stage composite: empty collection",
		}))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "empty collection")
}

func TestSaveRunRejectsDuplicateID(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	run := Run{ID: "same", AOI: "a", StartedAt: time.Now(), FinishedAt: time.Now(), Status: StatusSucceeded}

	require.NoError(t, s.SaveRun(ctx, run))
	assert.Error(t, s.SaveRun(ctx, run))
}
