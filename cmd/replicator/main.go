// Command replicator is the CLI entrypoint: it loads one config file,
// wires the schema cache, capture policy, checkpoint manager, sink
// registry and dispatcher, then runs the MySQL or Postgres decode loop
// until signalled to stop (spec §5/§6.1).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	gmmysql "github.com/go-mysql-org/go-mysql/mysql"

	"github.com/sunethnk/binlog-stream/internal/capture"
	"github.com/sunethnk/binlog-stream/internal/checkpoint"
	"github.com/sunethnk/binlog-stream/internal/config"
	"github.com/sunethnk/binlog-stream/internal/dispatch"
	"github.com/sunethnk/binlog-stream/internal/logging"
	"github.com/sunethnk/binlog-stream/internal/mysqlrepl"
	"github.com/sunethnk/binlog-stream/internal/pgrepl"
	"github.com/sunethnk/binlog-stream/internal/schema"
	"github.com/sunethnk/binlog-stream/internal/sink"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-path>\n", os.Args[0])
		os.Exit(1)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "replicator: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	go serveMetrics(log)

	policy := buildPolicy(cfg.Capture)
	registry := sink.NewRegistry(log)
	instances := registry.Load(buildSinkDescriptors(cfg.Publishers))
	dispatcher := dispatch.New(instances, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSignal(cancel, log)

	dispatcher.Start(ctx)
	defer dispatcher.Stop(context.Background())

	switch {
	case cfg.MySQLRepl != nil:
		return runMySQL(ctx, cfg, policy, dispatcher, log)
	case cfg.PostgresRepl != nil:
		return runPostgres(ctx, cfg, policy, dispatcher, log)
	default:
		return fmt.Errorf("config carries neither mysql nor postgres replication settings")
	}
}

func serveMetrics(log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":9090", mux); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}

func waitForSignal(cancel context.CancelFunc, log *zap.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Info("received shutdown signal", zap.String("signal", sig.String()))
	cancel()
}

func buildPolicy(cap config.Capture) *capture.Policy {
	schemas := make([]capture.Schema, len(cap.Schemas))
	for i, s := range cap.Schemas {
		tables := make(map[string]capture.Table, len(s.Tables))
		for _, t := range s.Tables {
			tables[t.Name] = capture.Table{
				Name:              t.Name,
				CaptureAllColumns: t.CaptureAll(),
				AllowedColumns:    t.Columns,
				PrimaryKey:        t.PrimaryKey,
			}
		}
		schemas[i] = capture.Schema{Name: s.Name, CaptureDML: s.CaptureDML, CaptureDDL: s.CaptureDDL, Tables: tables}
	}
	return capture.New(schemas)
}

func buildSinkDescriptors(publishers []config.Publisher) []sink.Descriptor {
	out := make([]sink.Descriptor, len(publishers))
	for i, p := range publishers {
		out[i] = sink.Descriptor{
			Name:          p.Plugin.Name,
			Kind:          p.Plugin.Name,
			Active:        p.Plugin.Active,
			MaxQueueDepth: p.Plugin.MaxQueueDepth,
			SchemasAllow:  p.Plugin.PublishSchemas,
			Options:       p.Plugin.Config,
		}
	}
	return out
}

func runMySQL(ctx context.Context, cfg *config.Config, policy *capture.Policy, dispatcher *dispatch.Dispatcher, log *zap.Logger) error {
	r := cfg.MySQLRepl
	srv := cfg.MasterServer

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", srv.Username, srv.Password, srv.Host, srv.Port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open mysql side channel: %w", err)
	}
	defer db.Close()
	side := schema.NewMySQLSideChannel(db)

	isMariaDB, err := side.DetectMariaDB(ctx)
	if err != nil {
		return fmt.Errorf("detect mariadb: %w", err)
	}
	checksumEnabled, err := side.ChecksumEnabled(ctx)
	if err != nil {
		return fmt.Errorf("detect checksum: %w", err)
	}

	ckpt := checkpoint.New(r.CheckpointFile, saveMode(r.SaveLastPosition, r.SavePositionEventCount), r.SavePositionEventCount, checkpoint.MySQLCodec{}, log)
	pos, ok, err := ckpt.Load()
	if err != nil {
		return fmt.Errorf("load mysql checkpoint: %w", err)
	}
	var startPos gmmysql.Position
	if ok {
		startPos = pos.(gmmysql.Position)
	} else if r.BinlogFile != "" {
		startPos = gmmysql.Position{Name: r.BinlogFile, Pos: r.BinlogPosition}
	} else {
		startPos, err = side.MasterPosition(ctx)
		if err != nil {
			return fmt.Errorf("resolve starting master position: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", srv.Host, srv.Port)
	reader, err := mysqlrepl.Connect(addr, srv.Username, srv.Password, r.ServerID, startPos,
		mysqlrepl.ServerInfo{IsMariaDB: isMariaDB, ChecksumEnabled: checksumEnabled})
	if err != nil {
		return fmt.Errorf("connect binlog stream: %w", err)
	}
	defer reader.Stop()

	cache := schema.New()
	dec := mysqlrepl.New(reader, side, cache, policy, ckpt, dispatcher.Dispatch, log, checksumEnabled, startPos.Name)
	return dec.Run(ctx)
}

func runPostgres(ctx context.Context, cfg *config.Config, policy *capture.Policy, dispatcher *dispatch.Dispatcher, log *zap.Logger) error {
	r := cfg.PostgresRepl
	srv := cfg.PostgresServer

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		srv.Host, srv.Port, srv.Username, srv.Password, srv.Database)

	side, err := schema.NewPostgresSideChannel(dsn)
	if err != nil {
		return fmt.Errorf("open postgres side channel: %w", err)
	}
	defer side.Close()

	ckpt := checkpoint.New(r.CheckpointFile, saveMode(r.SaveLastPosition, r.SavePositionEventCount), r.SavePositionEventCount, checkpoint.PostgresCodec{}, log)
	local, haveLocal, err := ckpt.Load()
	if err != nil {
		return fmt.Errorf("load postgres checkpoint: %w", err)
	}
	var localLSN uint64
	if haveLocal {
		localLSN = local.(uint64)
	}

	startLSN, err := checkpoint.ClampToServer(ctx, side, r.SlotName, localLSN, haveLocal)
	if err != nil {
		return fmt.Errorf("resume clamp: %w", err)
	}

	conn, err := pgrepl.Connect(ctx, dsn, r.SlotName, r.PublicationName, checkpoint.FormatLSN(startLSN))
	if err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	defer conn.Close(ctx)

	cache := schema.New()
	dec := pgrepl.New(conn, cache, policy, ckpt, dispatcher.Dispatch, log, startLSN)
	return dec.Run(ctx)
}

func saveMode(saveLastPosition bool, n int) checkpoint.SaveMode {
	if !saveLastPosition {
		return checkpoint.SaveOnCommit
	}
	if n > 0 {
		return checkpoint.SaveEveryN
	}
	return checkpoint.SaveEveryEvent
}

