package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "scanner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	started := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	id, err := s.CreateSession(started, 8)
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, s.RecordAngle(id, 0, 1200, ""))
	require.NoError(t, s.RecordAngle(id, 45, 1100, ""))
	require.NoError(t, s.RecordAngle(id, 90, 0, "capture failed at 90.0 degrees: timeout"))
	require.NoError(t, s.FinishSession(id, 2300, "scans/scan_1.ply"))

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	got := sessions[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 8, got.NumAngles)
	assert.Equal(t, 2300, got.TotalPoints)
	assert.Equal(t, "scans/scan_1.ply", got.PLYPath)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.FinishedAt)
}

func TestStore_UnfinishedSession(t *testing.T) {
	s := openTestStore(t)

	_, err := s.CreateSession(time.Now(), 4)
	require.NoError(t, err)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Nil(t, sessions[0].FinishedAt)
	assert.Empty(t, sessions[0].PLYPath)
}

func TestStore_SessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	first, err := s.CreateSession(time.Now(), 4)
	require.NoError(t, err)
	second, err := s.CreateSession(time.Now(), 8)
	require.NoError(t, err)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second, sessions[0].ID)
	assert.Equal(t, first, sessions[1].ID)
}

func TestStore_RecordAngleReplaces(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateSession(time.Now(), 2)
	require.NoError(t, err)

	require.NoError(t, s.RecordAngle(id, 0, 100, ""))
	require.NoError(t, s.RecordAngle(id, 0, 250, ""))

	var points int
	err = s.db.QueryRow(
		`SELECT points FROM session_angles WHERE session_id = ? AND angle = 0`, id).Scan(&points)
	require.NoError(t, err)
	assert.Equal(t, 250, points)
}

func TestStore_Calibration(t *testing.T) {
	s := openTestStore(t)

	blob := []byte(`{"camera":{"fx":1200}}`)
	require.NoError(t, s.SaveCalibration("default", blob))

	got, err := s.LoadCalibration("default")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// Replacing keeps a single row per name.
	blob2 := []byte(`{"camera":{"fx":1300}}`)
	require.NoError(t, s.SaveCalibration("default", blob2))
	got, err = s.LoadCalibration("default")
	require.NoError(t, err)
	assert.Equal(t, blob2, got)
}

func TestStore_LoadMissingCalibration(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadCalibration("nope")
	assert.Error(t, err)
}
