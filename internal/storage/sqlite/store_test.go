package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dashcam.report/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func worldState(frameID uint64, tracks ...core.Track) *core.WorldState {
	return &core.WorldState{
		FrameID:   frameID,
		Timestamp: time.Now(),
		Tracks:    tracks,
	}
}

func confirmedTrack(id uint64, class int) core.Track {
	return core.Track{
		ID:         id,
		BBox:       core.BBox{X: 10, Y: 20, W: 30, H: 40},
		ClassID:    class,
		Confidence: 0.9,
		AgeFrames:  5,
		Confirmed:  true,
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	store := openTestStore(t)

	// Opening again on the same file must be a no-op migration.
	path := filepath.Join(t.TempDir(), "twice.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	_ = store
}

func TestRecordWorldStateRequiresRun(t *testing.T) {
	store := openTestStore(t)
	err := store.RecordWorldState(worldState(1, confirmedTrack(1, 2)))
	require.Error(t, err)
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)

	runID, err := store.BeginRun(`{"tracking":{"iou_threshold":0.3}}`)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.NoError(t, store.RecordWorldState(worldState(1, confirmedTrack(1, 2))))
	require.NoError(t, store.RecordWorldState(worldState(2, confirmedTrack(1, 2))))
	require.NoError(t, store.EndRun())

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, runID, runs[0].RunID)
	require.Equal(t, 2, runs[0].FramesProcessed)
	require.Equal(t, 1, runs[0].TrackCount)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestRecordSkipsUnconfirmedAndCoasting(t *testing.T) {
	store := openTestStore(t)
	_, err := store.BeginRun("")
	require.NoError(t, err)

	tentative := confirmedTrack(1, 2)
	tentative.Confirmed = false

	coasting := confirmedTrack(2, 0)
	coasting.MissedFrames = 2

	matched := confirmedTrack(3, 2)

	require.NoError(t, store.RecordWorldState(worldState(1, tentative, coasting, matched)))

	recs, err := store.TracksForRun(store.RunID())
	require.NoError(t, err)
	// Tentative track not stored; coasting and matched confirmed tracks are.
	require.Len(t, recs, 2)

	byID := map[uint64]TrackRecord{}
	for _, r := range recs {
		byID[r.TrackID] = r
	}
	// Coasting track stored without an observation row; matched track
	// gets one.
	require.Equal(t, 0, byID[2].Observations)
	require.Equal(t, 1, byID[3].Observations)
	require.Equal(t, "car", byID[3].ClassName)
}

func TestTrackUpsertKeepsLatest(t *testing.T) {
	store := openTestStore(t)
	_, err := store.BeginRun("")
	require.NoError(t, err)

	tr := confirmedTrack(7, 2)
	require.NoError(t, store.RecordWorldState(worldState(1, tr)))

	tr.AgeFrames = 9
	tr.Confidence = 0.95
	require.NoError(t, store.RecordWorldState(worldState(2, tr)))

	recs, err := store.TracksForRun(store.RunID())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, 9, recs[0].AgeFrames)
	require.Equal(t, uint64(2), recs[0].LastFrameID)
	require.Equal(t, 2, recs[0].Observations)
}
