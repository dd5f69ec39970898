// Package config parses the JSON configuration document described in
// spec §6.2. Parsing itself is deliberately dumb: the shape is fixed by
// the spec, and config-file ergonomics (includes, comments, templating)
// are out of scope for the core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
)

// Logging mirrors spec §6.2 `logging`.
type Logging struct {
	Level       string `json:"level"`
	Stdout      bool   `json:"stdout"`
	LogFile     string `json:"log_file"`
	MaxFiles    int    `json:"max_files"`
	MaxFileSize int    `json:"max_file_size"`
}

// ServerConn mirrors `master_server` / `postgres_server`.
type ServerConn struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database,omitempty"`
}

// MySQLReplication mirrors the MySQL `replication` section.
type MySQLReplication struct {
	ServerID              uint32 `json:"server_id"`
	BinlogFile            string `json:"binlog_file,omitempty"`
	BinlogPosition        uint32 `json:"binlog_position,omitempty"`
	SaveLastPosition      bool   `json:"save_last_position"`
	SavePositionEventCount int   `json:"save_position_event_count"`
	CheckpointFile        string `json:"checkpoint_file"`
}

// PostgresReplication mirrors the Postgres `replication` section.
type PostgresReplication struct {
	SlotName              string `json:"slot_name"`
	PublicationName       string `json:"publication_name"`
	StartLSN              string `json:"start_lsn,omitempty"` // "current" or "HI/LO"
	SaveLastPosition      bool   `json:"save_last_position"`
	SavePositionEventCount int   `json:"save_position_event_count"`
	CheckpointFile        string `json:"checkpoint_file"`
}

// TableCapture mirrors one entry of `capture.schemas[].tables[]`.
type TableCapture struct {
	Name          string   `json:"-"` // table name: the wrapping map key
	PrimaryKey    []string `json:"-"` // normalized from string|[]string
	RawPrimaryKey any      `json:"primary_key"`
	Columns       []string `json:"columns"` // ["*"] or explicit allow-list
}

// CaptureAll reports whether Columns is the "*" sentinel.
func (t TableCapture) CaptureAll() bool {
	return len(t.Columns) == 1 && t.Columns[0] == "*"
}

// SchemaCapture mirrors one entry of `capture.schemas` / `capture.databases`.
type SchemaCapture struct {
	Name       string // schema/database name: the wrapping map key
	CaptureDML bool   `json:"capture_dml"`
	CaptureDDL bool   `json:"capture_ddl"`
	Tables     []TableCapture
}

// Capture mirrors the `capture` section.
type Capture struct {
	Schemas []SchemaCapture
}

// PublisherPlugin mirrors one entry of `publishers[].plugin`.
type PublisherPlugin struct {
	Name            string            `json:"name"`
	LibraryPath     string            `json:"library_path,omitempty"`
	Active          bool              `json:"active"`
	MaxQueueDepth   int               `json:"max_queue_depth"`
	PublishSchemas  []string          `json:"publish_schemas,omitempty"`
	Config          map[string]string `json:"config"`
}

// Publisher wraps a PublisherPlugin entry under its JSON `plugin` key.
type Publisher struct {
	Plugin PublisherPlugin `json:"plugin"`
}

// Config is the fully parsed, expanded configuration document.
type Config struct {
	Logging        Logging              `json:"logging"`
	MasterServer   *ServerConn          `json:"master_server,omitempty"`
	PostgresServer *ServerConn          `json:"postgres_server,omitempty"`
	MySQLRepl      *MySQLReplication    `json:"-"`
	PostgresRepl   *PostgresReplication `json:"-"`
	Capture        Capture              `json:"-"`
	Publishers     []Publisher          `json:"publishers"`

	rawReplication json.RawMessage
	rawCapture     json.RawMessage
}

var envToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, env-expands, and parses the config file at path. If a
// sibling ".env" file exists next to path, it is loaded first via
// godotenv so ${VAR} tokens in the config can reference local secrets —
// the same convenience the teacher's demo relied on, generalized to the
// whole config document instead of one hardcoded DSN.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load(".env")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := envToken.ReplaceAllFunc(raw, func(tok []byte) []byte {
		name := envToken.FindSubmatch(tok)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return tok
	})

	var doc struct {
		Logging        Logging         `json:"logging"`
		MasterServer   *ServerConn     `json:"master_server"`
		PostgresServer *ServerConn     `json:"postgres_server"`
		Replication    json.RawMessage `json:"replication"`
		Capture        json.RawMessage `json:"capture"`
		Publishers     []Publisher     `json:"publishers"`
	}
	if err := json.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		Logging:        doc.Logging,
		MasterServer:   doc.MasterServer,
		PostgresServer: doc.PostgresServer,
		Publishers:     doc.Publishers,
		rawReplication: doc.Replication,
		rawCapture:     doc.Capture,
	}

	if cfg.MasterServer != nil {
		var r MySQLReplication
		if len(doc.Replication) > 0 {
			if err := json.Unmarshal(doc.Replication, &r); err != nil {
				return nil, fmt.Errorf("config: parse mysql replication: %w", err)
			}
		}
		cfg.MySQLRepl = &r
	}
	if cfg.PostgresServer != nil {
		var r PostgresReplication
		if len(doc.Replication) > 0 {
			if err := json.Unmarshal(doc.Replication, &r); err != nil {
				return nil, fmt.Errorf("config: parse postgres replication: %w", err)
			}
		}
		cfg.PostgresRepl = &r
	}

	if len(doc.Capture) > 0 {
		cap, err := parseCapture(doc.Capture)
		if err != nil {
			return nil, fmt.Errorf("config: parse capture: %w", err)
		}
		cfg.Capture = cap
	}

	if cfg.MasterServer == nil && cfg.PostgresServer == nil {
		return nil, fmt.Errorf("config: %w: no master_server or postgres_server configured", ErrInvalid)
	}

	return cfg, nil
}

// parseCapture handles the `{databases|schemas: [{<name>: {...}}]}` shape,
// where each schema and table is a single-key object keyed by its own name.
func parseCapture(raw json.RawMessage) (Capture, error) {
	var outer struct {
		Databases []map[string]json.RawMessage `json:"databases"`
		Schemas   []map[string]json.RawMessage `json:"schemas"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return Capture{}, err
	}
	entries := outer.Schemas
	if len(entries) == 0 {
		entries = outer.Databases
	}

	var cap Capture
	for _, m := range entries {
		for name, body := range m {
			var s struct {
				CaptureDML bool                         `json:"capture_dml"`
				CaptureDDL bool                         `json:"capture_ddl"`
				Tables     []map[string]json.RawMessage `json:"tables"`
			}
			if err := json.Unmarshal(body, &s); err != nil {
				return Capture{}, fmt.Errorf("schema %q: %w", name, err)
			}
			sc := SchemaCapture{Name: name, CaptureDML: s.CaptureDML, CaptureDDL: s.CaptureDDL}
			for _, tm := range s.Tables {
				for tname, tbody := range tm {
					var t TableCapture
					if err := json.Unmarshal(tbody, &t); err != nil {
						return Capture{}, fmt.Errorf("schema %q table %q: %w", name, tname, err)
					}
					t.Name = tname
					t.PrimaryKey = normalizePrimaryKey(t.RawPrimaryKey)
					sc.Tables = append(sc.Tables, t)
				}
			}
			cap.Schemas = append(cap.Schemas, sc)
		}
	}
	return cap, nil
}

func normalizePrimaryKey(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
