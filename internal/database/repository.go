package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Repository handles call-leg timeline persistence.
type Repository struct {
	conn  *Connection
	table string
}

// NewRepository creates a repository over a lazily opened connection.
func NewRepository(conn *Connection, table string) *Repository {
	return &Repository{conn: conn, table: table}
}

// UpsertCall inserts a call row; a duplicate call_id updates every
// non-key column to the new values.
func (r *Repository) UpsertCall(row *CallRow) error {
	db, err := r.conn.Get()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			call_id, recording_path,
			leg_a_status, leg_a_number, leg_a_channel, leg_a_paired_channel,
			leg_a_peer, leg_a_caller, leg_a_dial_string, leg_a_answered_by,
			leg_a_start, leg_a_answer, leg_a_end,
			leg_b_status, leg_b_number, leg_b_channel, leg_b_paired_channel,
			leg_b_peer, leg_b_caller, leg_b_dial_string, leg_b_answered_by,
			leg_b_start, leg_b_answer, leg_b_end
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			recording_path = VALUES(recording_path),
			leg_a_status = VALUES(leg_a_status),
			leg_a_number = VALUES(leg_a_number),
			leg_a_channel = VALUES(leg_a_channel),
			leg_a_paired_channel = VALUES(leg_a_paired_channel),
			leg_a_peer = VALUES(leg_a_peer),
			leg_a_caller = VALUES(leg_a_caller),
			leg_a_dial_string = VALUES(leg_a_dial_string),
			leg_a_answered_by = VALUES(leg_a_answered_by),
			leg_a_start = VALUES(leg_a_start),
			leg_a_answer = VALUES(leg_a_answer),
			leg_a_end = VALUES(leg_a_end),
			leg_b_status = VALUES(leg_b_status),
			leg_b_number = VALUES(leg_b_number),
			leg_b_channel = VALUES(leg_b_channel),
			leg_b_paired_channel = VALUES(leg_b_paired_channel),
			leg_b_peer = VALUES(leg_b_peer),
			leg_b_caller = VALUES(leg_b_caller),
			leg_b_dial_string = VALUES(leg_b_dial_string),
			leg_b_answered_by = VALUES(leg_b_answered_by),
			leg_b_start = VALUES(leg_b_start),
			leg_b_answer = VALUES(leg_b_answer),
			leg_b_end = VALUES(leg_b_end)
	`, r.table)

	stmt, err := db.Prepare(query)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	a, b := &row.LegA, &row.LegB
	_, err = stmt.Exec(
		row.CallID, row.RecordingPath,
		a.Status, a.Number, a.Channel, a.PairedChannel,
		a.Peer, a.Caller, a.DialString, a.AnsweredBy,
		wallClock(a.Start), wallClock(a.Answer), wallClock(a.End),
		b.Status, b.Number, b.Channel, b.PairedChannel,
		b.Peer, b.Caller, b.DialString, b.AnsweredBy,
		wallClock(b.Start), wallClock(b.Answer), wallClock(b.End),
	)
	if err != nil {
		return fmt.Errorf("upserting call %s: %w", row.CallID, err)
	}
	return nil
}

// DeleteOlderThan removes rows created before the cutoff. Used by the
// retention cleaner.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	db, err := r.conn.Get()
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, r.table)
	res, err := db.Exec(query, cutoff.Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("deleting expired rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// wallClock renders a timestamp as "YYYY-MM-DD HH:MM:SS", NULL when zero.
func wallClock(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format("2006-01-02 15:04:05"), Valid: true}
}
