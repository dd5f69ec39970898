package schema

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
)

// PostgresSideChannel is the regular (non-replication) connection used to
// read catalog state that the pgoutput wire stream doesn't carry, chiefly
// the replication slot's confirmed_flush_lsn used for the resume clamp
// (spec §4.6).
type PostgresSideChannel struct {
	db *sql.DB
}

// NewPostgresSideChannel opens a lib/pq connection to dsn for
// administrative catalog queries. The replication stream itself never
// goes through this connection.
func NewPostgresSideChannel(dsn string) (*PostgresSideChannel, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("schema: open postgres side channel: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: ping postgres side channel: %w", err)
	}
	return &PostgresSideChannel{db: db}, nil
}

// Close releases the side-channel connection.
func (s *PostgresSideChannel) Close() error {
	return s.db.Close()
}

// ConfirmedFlushLSN reads pg_replication_slots.confirmed_flush_lsn for
// slotName, the authoritative server-side resume point (GLOSSARY:
// "Replication slot").
func (s *PostgresSideChannel) ConfirmedFlushLSN(ctx context.Context, slotName string) (string, error) {
	const q = `SELECT confirmed_flush_lsn FROM pg_replication_slots WHERE slot_name = $1`
	var lsn sql.NullString
	if err := s.db.QueryRowContext(ctx, q, slotName).Scan(&lsn); err != nil {
		return "", fmt.Errorf("schema: confirmed_flush_lsn for slot %q: %w", slotName, err)
	}
	if !lsn.Valid {
		return "", fmt.Errorf("schema: slot %q has no confirmed_flush_lsn yet", slotName)
	}
	return lsn.String, nil
}

// SlotExists reports whether the named replication slot is present.
func (s *PostgresSideChannel) SlotExists(ctx context.Context, slotName string) (bool, error) {
	const q = `SELECT 1 FROM pg_replication_slots WHERE slot_name = $1`
	var one int
	err := s.db.QueryRowContext(ctx, q, slotName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("schema: slot lookup %q: %w", slotName, err)
	}
	return true, nil
}
