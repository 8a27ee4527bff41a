package database

import (
	"database/sql"
	"fmt"
)

// ensureSchema creates the call-leg timeline table when it is missing.
// The table name comes from configuration; everything else is fixed.
func ensureSchema(db *sql.DB, table string) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			call_id VARCHAR(64) NOT NULL PRIMARY KEY,
			recording_path TEXT,
			leg_a_status VARCHAR(255),
			leg_a_number VARCHAR(255),
			leg_a_channel VARCHAR(255),
			leg_a_paired_channel VARCHAR(255),
			leg_a_peer VARCHAR(255),
			leg_a_caller VARCHAR(255),
			leg_a_dial_string TEXT,
			leg_a_answered_by VARCHAR(255),
			leg_a_start DATETIME NULL,
			leg_a_answer DATETIME NULL,
			leg_a_end DATETIME NULL,
			leg_b_status VARCHAR(255),
			leg_b_number VARCHAR(255),
			leg_b_channel VARCHAR(255),
			leg_b_paired_channel VARCHAR(255),
			leg_b_peer VARCHAR(255),
			leg_b_caller VARCHAR(255),
			leg_b_dial_string TEXT,
			leg_b_answered_by VARCHAR(255),
			leg_b_start DATETIME NULL,
			leg_b_answer DATETIME NULL,
			leg_b_end DATETIME NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`, table)

	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("ensuring table %s: %w", table, err)
	}
	return nil
}
