package pgrepl

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

// Connect opens a replication-mode connection and issues
// START_REPLICATION, handing the low-level message framing (CopyData)
// to this package's own decode loop rather than a logical-replication
// helper library (spec §4.3: decoding pgoutput is this package's job).
func Connect(ctx context.Context, connString, slotName, publicationName, startLSN string) (*pgconn.PgConn, error) {
	cfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("pgrepl: parse connection string: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["replication"] = "database"

	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgrepl: connect: %w", err)
	}

	query := fmt.Sprintf(
		"START_REPLICATION SLOT %s LOGICAL %s (proto_version '1', publication_names '%s')",
		quoteIdent(slotName), startLSN, publicationName,
	)
	if err := conn.Exec(ctx, query).Close(); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("pgrepl: start replication: %w", err)
	}
	return conn, nil
}

func quoteIdent(s string) string { return `"` + s + `"` }

// receive reads the next CopyData frame off conn, unwrapping the
// pgproto3.CopyData envelope into its raw payload (an 'w' XLogData or
// 'k' Primary keepalive message, per spec §4.3).
func receive(ctx context.Context, conn *pgconn.PgConn) ([]byte, error) {
	msg, err := conn.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	cd, ok := msg.(*pgproto3.CopyData)
	if !ok {
		return nil, fmt.Errorf("pgrepl: unexpected message %T during replication", msg)
	}
	return cd.Data, nil
}

// sendFeedback writes a Standby Status Update back to the server,
// wrapped in the CopyData envelope the replication protocol expects.
func sendFeedback(ctx context.Context, conn *pgconn.PgConn, payload []byte) error {
	frontend := conn.Frontend()
	frontend.Send(&pgproto3.CopyData{Data: payload})
	return frontend.Flush()
}
