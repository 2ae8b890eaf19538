package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailtriage/internal/config"
	"github.com/sells-group/mailtriage/internal/model"
)

func configWithDriver(driver string) config.StoreConfig {
	return config.StoreConfig{Driver: driver}
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_ExecutionLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	exec, err := st.CreateExecution(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusRunning, exec.Status)
	assert.Nil(t, exec.CompletedAt)

	require.NoError(t, st.UpdateStageCount(ctx, exec.ID, model.StageTriage, 120))
	require.NoError(t, st.UpdateStageCount(ctx, exec.ID, model.StageContextual, 40))
	require.NoError(t, st.CompleteExecution(ctx, exec.ID))

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 120, got.Stage1Count)
	assert.Equal(t, 40, got.Stage2Count)
}

func TestSQLite_StageCountsAreMonotonic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	exec, err := st.CreateExecution(ctx)
	require.NoError(t, err)

	require.NoError(t, st.UpdateStageCount(ctx, exec.ID, model.StageContextual, 50))
	// A late throttled write with a smaller count must not move it back.
	require.NoError(t, st.UpdateStageCount(ctx, exec.ID, model.StageContextual, 30))

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Stage2Count)
}

func TestSQLite_TerminalStatusIsSticky(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	exec, err := st.CreateExecution(ctx)
	require.NoError(t, err)
	require.NoError(t, st.FailExecution(ctx, exec.ID, "stage blew up"))

	// Neither finalizer may touch a terminal execution.
	assert.Error(t, st.CompleteExecution(ctx, exec.ID))
	assert.Error(t, st.FailExecution(ctx, exec.ID, "again"))

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, got.Status)
	assert.Equal(t, "stage blew up", got.ErrorMessage)
}

func TestSQLite_GetExecution_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetExecution(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_LatestExecution(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.LatestExecution(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := st.CreateExecution(ctx)
	require.NoError(t, err)
	second, err := st.CreateExecution(ctx)
	require.NoError(t, err)

	latest, err := st.LatestExecution(ctx)
	require.NoError(t, err)
	// Same-timestamp rows fall back to ID ordering; either way it is one
	// of the two, and once the first completes the list still holds both.
	assert.Contains(t, []string{first.ID, second.ID}, latest.ID)

	execs, err := st.ListExecutions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestSQLite_SnapshotRoundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	exec, err := st.CreateExecution(ctx)
	require.NoError(t, err)

	in := []model.ContextualAnalysisResult{
		{EmailID: "a", Summary: "first", QualityScore: 5.5},
		{EmailID: "b", Summary: "second", QualityScore: 2.0},
	}
	require.NoError(t, st.SaveSnapshot(ctx, exec.ID, model.StageContextual, in))

	var out []model.ContextualAnalysisResult
	require.NoError(t, st.LoadSnapshot(ctx, exec.ID, model.StageContextual, &out))
	assert.Equal(t, in, out)
}

func TestSQLite_SnapshotUpsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	exec, err := st.CreateExecution(ctx)
	require.NoError(t, err)

	require.NoError(t, st.SaveSnapshot(ctx, exec.ID, model.StageCritical, []string{"one"}))
	require.NoError(t, st.SaveSnapshot(ctx, exec.ID, model.StageCritical, []string{"one", "two"}))

	var out []string
	require.NoError(t, st.LoadSnapshot(ctx, exec.ID, model.StageCritical, &out))
	assert.Equal(t, []string{"one", "two"}, out)
}

func TestSQLite_SnapshotMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	var out []string
	err := st.LoadSnapshot(context.Background(), "nope", model.StageContextual, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ConsolidatedOrderedByScore(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	exec, err := st.CreateExecution(ctx)
	require.NoError(t, err)

	records := []model.ConsolidatedRecord{
		{EmailID: "low", PipelineStage: 1, FinalScore: 1.0},
		{EmailID: "high", PipelineStage: 3, FinalScore: 9.0},
		{EmailID: "mid", PipelineStage: 2, FinalScore: 5.0},
	}
	require.NoError(t, st.SaveConsolidated(ctx, exec.ID, records))

	got, err := st.ListConsolidated(ctx, exec.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "high", got[0].EmailID)
	assert.Equal(t, "mid", got[1].EmailID)
	assert.Equal(t, "low", got[2].EmailID)

	limited, err := st.ListConsolidated(ctx, exec.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLite_SaveConsolidatedReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	exec, err := st.CreateExecution(ctx)
	require.NoError(t, err)

	require.NoError(t, st.SaveConsolidated(ctx, exec.ID, []model.ConsolidatedRecord{
		{EmailID: "a", FinalScore: 1.0},
		{EmailID: "b", FinalScore: 2.0},
	}))
	require.NoError(t, st.SaveConsolidated(ctx, exec.ID, []model.ConsolidatedRecord{
		{EmailID: "a", FinalScore: 3.0},
	}))

	got, err := st.ListConsolidated(ctx, exec.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].FinalScore)
}

func TestNewStore_UnknownDriver(t *testing.T) {
	_, err := NewStore(context.Background(), configWithDriver("oracle"))
	assert.Error(t, err)
}
