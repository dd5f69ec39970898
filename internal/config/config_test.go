package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadExpandsEnvTokens(t *testing.T) {
	t.Setenv("DB_PASSWORD", "s3cret")
	path := writeConfig(t, `{
		"master_server": {"host": "127.0.0.1", "port": 3306, "username": "repl", "password": "${DB_PASSWORD}"},
		"publishers": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.MasterServer.Password)
}

func TestLoadLeavesUnresolvedTokenVerbatim(t *testing.T) {
	path := writeConfig(t, `{
		"master_server": {"host": "h", "port": 1, "username": "u", "password": "${NOT_SET_ANYWHERE}"},
		"publishers": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${NOT_SET_ANYWHERE}", cfg.MasterServer.Password)
}

func TestLoadRequiresAtLeastOneServer(t *testing.T) {
	path := writeConfig(t, `{"publishers": []}`)
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadParsesMySQLReplicationSection(t *testing.T) {
	path := writeConfig(t, `{
		"master_server": {"host": "h", "port": 3306, "username": "u", "password": "p"},
		"replication": {"server_id": 101, "binlog_file": "binlog.000001", "binlog_position": 4, "save_last_position": true},
		"publishers": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.MySQLRepl)
	assert.Equal(t, uint32(101), cfg.MySQLRepl.ServerID)
	assert.Equal(t, "binlog.000001", cfg.MySQLRepl.BinlogFile)
	assert.True(t, cfg.MySQLRepl.SaveLastPosition)
	assert.Nil(t, cfg.PostgresRepl)
}

func TestLoadParsesCaptureSchemasWithPrimaryKeyNormalization(t *testing.T) {
	path := writeConfig(t, `{
		"master_server": {"host": "h", "port": 3306, "username": "u", "password": "p"},
		"capture": {"schemas": [
			{"shop": {
				"capture_dml": true,
				"capture_ddl": false,
				"tables": [
					{"orders": {"primary_key": "id", "columns": ["*"]}},
					{"order_items": {"primary_key": ["order_id", "line_no"], "columns": ["order_id", "line_no", "sku"]}}
				]
			}}
		]},
		"publishers": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Capture.Schemas, 1)
	sc := cfg.Capture.Schemas[0]
	assert.Equal(t, "shop", sc.Name)
	assert.True(t, sc.CaptureDML)
	assert.False(t, sc.CaptureDDL)
	require.Len(t, sc.Tables, 2)

	var orders, items TableCapture
	for _, tbl := range sc.Tables {
		switch tbl.Name {
		case "orders":
			orders = tbl
		case "order_items":
			items = tbl
		}
	}
	assert.Equal(t, []string{"id"}, orders.PrimaryKey)
	assert.True(t, orders.CaptureAll())
	assert.Equal(t, []string{"order_id", "line_no"}, items.PrimaryKey)
	assert.False(t, items.CaptureAll())
}

func TestLoadParsesCaptureDatabasesAliasShape(t *testing.T) {
	path := writeConfig(t, `{
		"postgres_server": {"host": "h", "port": 5432, "username": "u", "password": "p"},
		"capture": {"databases": [{"shop": {"capture_dml": true, "tables": []}}]},
		"publishers": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Capture.Schemas, 1)
	assert.Equal(t, "shop", cfg.Capture.Schemas[0].Name)
	require.NotNil(t, cfg.PostgresRepl)
	assert.Nil(t, cfg.MySQLRepl)
}

func TestNormalizePrimaryKeyHandlesEmptyAndMixedArrays(t *testing.T) {
	assert.Nil(t, normalizePrimaryKey(""))
	assert.Nil(t, normalizePrimaryKey(nil))
	assert.Equal(t, []string{"a", "b"}, normalizePrimaryKey([]any{"a", "b"}))
}
