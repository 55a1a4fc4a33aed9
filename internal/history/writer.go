package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bn-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// ValuationSnapshot is one periodic reading of account health.
type ValuationSnapshot struct {
	Time           time.Time
	UID            int64
	AssetValuation float64
	USDTBalance    float64
	MarginRatio    float64
	Status         string
	AccountState   int
}

// WorkflowEvent records the outcome of one hedge workflow run.
type WorkflowEvent struct {
	Time      time.Time
	UID       int64
	Workflow  string
	Symbol    string
	Code      int
	Message   string
	TargetUSD float64
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	snapshots  chan ValuationSnapshot
	events     chan WorkflowEvent
	started    atomic.Bool
	dropSnap   atomic.Uint64
	dropEvents atomic.Uint64
}

func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		snapshots: make(chan ValuationSnapshot, queueSize),
		events:    make(chan WorkflowEvent, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueSnapshot(snapshot ValuationSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snapshot:
		return
	default:
		if w.dropSnap.Add(1) == 1 && w.log != nil {
			w.log.Warn("history snapshot queue full")
		}
	}
}

func (w *Writer) EnqueueEvent(event WorkflowEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
		return
	default:
		if w.dropEvents.Add(1) == 1 && w.log != nil {
			w.log.Warn("history event queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		case event := <-w.events:
			w.writeEvent(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		uid BIGINT NOT NULL,
		asset_valuation DOUBLE PRECISION NOT NULL,
		usdt_balance DOUBLE PRECISION NOT NULL,
		margin_ratio DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		account_state INTEGER NOT NULL
	)`, w.table("valuation_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		uid BIGINT NOT NULL,
		workflow TEXT NOT NULL,
		symbol TEXT NOT NULL,
		code INTEGER NOT NULL,
		message TEXT NOT NULL,
		target_usd DOUBLE PRECISION NOT NULL
	)`, w.table("workflow_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("valuation_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("valuation_snapshots hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("workflow_events"))); err != nil && w.log != nil {
		w.log.Warn("workflow_events hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeSnapshot(ctx context.Context, snap ValuationSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, uid, asset_valuation, usdt_balance, margin_ratio, status, account_state
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("valuation_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.UID,
		snap.AssetValuation,
		snap.USDTBalance,
		snap.MarginRatio,
		snap.Status,
		snap.AccountState,
	); err != nil && w.log != nil {
		w.log.Warn("history snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) writeEvent(ctx context.Context, event WorkflowEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, uid, workflow, symbol, code, message, target_usd
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("workflow_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.UID,
		event.Workflow,
		event.Symbol,
		event.Code,
		event.Message,
		event.TargetUSD,
	); err != nil && w.log != nil {
		w.log.Warn("history event insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
