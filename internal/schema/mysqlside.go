package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	gmmysql "github.com/go-mysql-org/go-mysql/mysql"
)

// MySQLSideChannel resolves column names and ENUM/SET labels via a second
// read connection to the database, as required by spec §3 ("column
// names are not in the wire stream and must be fetched via a side
// channel") and §4.4.
type MySQLSideChannel struct {
	db *sql.DB
}

// NewMySQLSideChannel wraps an already-open *sql.DB (go-sql-driver/mysql)
// used only for metadata lookups, never for the replication stream itself.
func NewMySQLSideChannel(db *sql.DB) *MySQLSideChannel {
	return &MySQLSideChannel{db: db}
}

// ColumnNames resolves the in-order column names of schema.table via
// `SELECT * FROM schema.table LIMIT 0`, which forces the driver to report
// column metadata without transferring any rows.
func (s *MySQLSideChannel) ColumnNames(ctx context.Context, schemaName, table string) ([]string, error) {
	q := fmt.Sprintf("SELECT * FROM `%s`.`%s` LIMIT 0", escapeIdent(schemaName), escapeIdent(table))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("schema: column name lookup %s.%s: %w", schemaName, table, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("schema: column name lookup %s.%s: %w", schemaName, table, err)
	}
	return cols, nil
}

// EnumLabels resolves the ordered label list for an ENUM or SET column
// from information_schema, parsing the `enum('a','b')` / `set('a','b')`
// COLUMN_TYPE form MySQL reports.
func (s *MySQLSideChannel) EnumLabels(ctx context.Context, schemaName, table, column string) ([]string, error) {
	const q = `SELECT COLUMN_TYPE FROM information_schema.COLUMNS
	           WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND COLUMN_NAME = ?`
	var columnType string
	err := s.db.QueryRowContext(ctx, q, schemaName, table, column).Scan(&columnType)
	if err != nil {
		return nil, fmt.Errorf("schema: enum label lookup %s.%s.%s: %w", schemaName, table, column, err)
	}
	return parseEnumLabels(columnType), nil
}

// parseEnumLabels turns `enum('a','b','c')` into ["a","b","c"].
func parseEnumLabels(columnType string) []string {
	open := strings.IndexByte(columnType, '(')
	close := strings.LastIndexByte(columnType, ')')
	if open < 0 || close < 0 || close < open {
		return nil
	}
	inner := columnType[open+1 : close]
	parts := strings.Split(inner, ",")
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "'")
		p = strings.TrimSuffix(p, "'")
		p = strings.ReplaceAll(p, "''", "'")
		labels = append(labels, p)
	}
	return labels
}

// MasterPosition reads the server's current binlog coordinates via
// `SHOW MASTER STATUS`, used to bootstrap replication when no local
// checkpoint exists (spec §4.6 "MySQL resume").
func (s *MySQLSideChannel) MasterPosition(ctx context.Context) (gmmysql.Position, error) {
	row := s.db.QueryRowContext(ctx, "SHOW MASTER STATUS")
	var file string
	var pos uint32
	var binlogDoDB, binlogIgnoreDB, executedGtidSet sql.NullString
	if err := row.Scan(&file, &pos, &binlogDoDB, &binlogIgnoreDB, &executedGtidSet); err != nil {
		return gmmysql.Position{}, fmt.Errorf("schema: SHOW MASTER STATUS: %w", err)
	}
	return gmmysql.Position{Name: file, Pos: pos}, nil
}

// DetectMariaDB reports whether the connected server identifies as
// MariaDB, per spec §4.2's dialect negotiation requirement.
func (s *MySQLSideChannel) DetectMariaDB(ctx context.Context) (bool, error) {
	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return false, fmt.Errorf("schema: SELECT VERSION(): %w", err)
	}
	return strings.Contains(strings.ToLower(version), "mariadb"), nil
}

// ChecksumEnabled reports whether the server annotates binlog events with
// a trailing CRC32, via `@@global.binlog_checksum`.
func (s *MySQLSideChannel) ChecksumEnabled(ctx context.Context) (bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT @@global.binlog_checksum").Scan(&v)
	if err != nil {
		// Older servers without the variable never append a checksum.
		return false, nil
	}
	return v.Valid && strings.ToUpper(v.String) != "NONE", nil
}

func escapeIdent(ident string) string {
	return strings.ReplaceAll(ident, "`", "``")
}
