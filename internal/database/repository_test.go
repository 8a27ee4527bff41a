package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := &Connection{db: db}
	return NewRepository(conn, "call_leg_timelines"), mock
}

func sampleRow() *CallRow {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	return &CallRow{
		CallID:        "call-1",
		RecordingPath: "/var/spool/recordings/call-1.wav",
		LegA: LegRow{
			Status:  "ANSWERED",
			Number:  "15551234",
			Channel: "PJSIP/15551234-00000001",
			Start:   start,
			Answer:  start.Add(8 * time.Second),
			End:     start.Add(40 * time.Second),
		},
		LegB: LegRow{
			Status:     "ANSWERED",
			Number:     "777",
			Channel:    "Local/777@default2-0001;2",
			AnsweredBy: "Alice",
			Start:      start.Add(time.Second),
			Answer:     start.Add(9 * time.Second),
			End:        start.Add(40 * time.Second),
		},
	}
}

func TestUpsertCall(t *testing.T) {
	repo, mock := mockRepo(t)

	mock.ExpectPrepare("INSERT INTO call_leg_timelines").
		ExpectExec().
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.UpsertCall(sampleRow()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCallPropagatesError(t *testing.T) {
	repo, mock := mockRepo(t)

	mock.ExpectPrepare("INSERT INTO call_leg_timelines").
		ExpectExec().
		WillReturnError(assert.AnError)

	err := repo.UpsertCall(sampleRow())
	assert.ErrorContains(t, err, "upserting call call-1")
}

func TestDeleteOlderThan(t *testing.T) {
	repo, mock := mockRepo(t)

	cutoff := time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM call_leg_timelines WHERE created_at").
		WithArgs("2026-08-17 10:00:00").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteOlderThan(cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWallClock(t *testing.T) {
	assert.False(t, wallClock(time.Time{}).Valid)

	v := wallClock(time.Date(2026, 8, 24, 10, 0, 1, 900_000_000, time.UTC))
	require.True(t, v.Valid)
	assert.Equal(t, "2026-08-24 10:00:01", v.String)
}

func TestWriterRoundTrip(t *testing.T) {
	repo, mock := mockRepo(t)

	mock.ExpectPrepare("INSERT INTO call_leg_timelines").
		ExpectExec().
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := NewWriter(repo)
	w.Start()
	w.Enqueue(sampleRow())
	w.Stop()

	assert.NoError(t, mock.ExpectationsWereMet())
}
