package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type testReport struct {
	ID            uuid.UUID `json:"id"`
	URL           string    `json:"url"`
	OverallStatus string    `json:"overall_status"`
}

func save(t *testing.T, db *DB, url, status string, at time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	rep := testReport{ID: id, URL: url, OverallStatus: status}
	require.NoError(t, db.SaveReport(context.Background(), id, url, status, at, rep))
	return id
}

func TestSaveAndGetReport(t *testing.T) {
	db := openTestDB(t)
	id := save(t, db, "https://example.com", "HEALTHY", time.Now())

	raw, err := db.GetReport(context.Background(), id)
	require.NoError(t, err)

	var rep testReport
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Equal(t, id, rep.ID)
	assert.Equal(t, "HEALTHY", rep.OverallStatus)
}

func TestGetReportNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetReport(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveReportRejectsBadStatus(t *testing.T) {
	db := openTestDB(t)

	err := db.SaveReport(context.Background(), uuid.New(), "https://example.com", "BROKEN", time.Now(), testReport{})
	require.Error(t, err)
}

func TestListReportsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-time.Hour)
	old := save(t, db, "https://a.example", "HEALTHY", base)
	mid := save(t, db, "https://b.example", "WARNING", base.Add(10*time.Minute))
	newest := save(t, db, "https://a.example", "FAILING", base.Add(20*time.Minute))

	all, err := db.ListReports(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newest, all[0].ID)
	assert.Equal(t, mid, all[1].ID)
	assert.Equal(t, old, all[2].ID)

	limited, err := db.ListReports(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	filtered, err := db.ListReports(context.Background(), "https://a.example", 0)
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, newest, filtered[0].ID)
	assert.Equal(t, old, filtered[1].ID)
}

func TestPruneBefore(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-48 * time.Hour)
	save(t, db, "https://example.com", "HEALTHY", base)
	save(t, db, "https://example.com", "HEALTHY", base.Add(time.Hour))
	kept := save(t, db, "https://example.com", "WARNING", time.Now())

	n, err := db.PruneBefore(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := db.ListReports(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, kept, remaining[0].ID)

	n, err = db.PruneBefore(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
