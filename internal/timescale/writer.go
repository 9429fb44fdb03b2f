package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aditya-23140/trade-sim/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Candle struct {
	Symbol   string
	Interval string
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// EquitySnapshot is one row of simulated-account history, taken after each
// mutation batch.
type EquitySnapshot struct {
	Time          time.Time
	Mode          string
	USDTBalance   float64
	Equity        float64
	MarginUsed    float64
	UnrealizedPnl float64
	OpenPositions int
	OpenOrders    int
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	equity     chan EquitySnapshot
	candles    chan Candle
	started    atomic.Bool
	dropEquity atomic.Uint64
	dropCandle atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
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
		db:      db,
		log:     log,
		schema:  schema,
		equity:  make(chan EquitySnapshot, queueSize),
		candles: make(chan Candle, queueSize),
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

func (w *Writer) EnqueueEquity(snapshot EquitySnapshot) {
	if w == nil {
		return
	}
	select {
	case w.equity <- snapshot:
		return
	default:
		if w.dropEquity.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale equity queue full")
		}
	}
}

func (w *Writer) EnqueueCandle(candle Candle) {
	if w == nil {
		return
	}
	select {
	case w.candles <- candle:
		return
	default:
		if w.dropCandle.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale candle queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.equity:
			w.writeEquity(ctx, snap)
		case candle := <-w.candles:
			w.writeCandle(ctx, candle)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, symbol, interval)
	)`, w.table("market_ohlc"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		mode TEXT NOT NULL,
		usdt_balance DOUBLE PRECISION NOT NULL,
		equity DOUBLE PRECISION NOT NULL,
		margin_used DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		open_positions INTEGER NOT NULL,
		open_orders INTEGER NOT NULL
	)`, w.table("equity_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("market_ohlc"))); err != nil && w.log != nil {
		w.log.Warn("timescale market_ohlc hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("equity_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale equity_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeEquity(ctx context.Context, snap EquitySnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, mode, usdt_balance, equity, margin_used, unrealized_pnl, open_positions, open_orders
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)`, w.table("equity_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Mode,
		snap.USDTBalance,
		snap.Equity,
		snap.MarginUsed,
		snap.UnrealizedPnl,
		snap.OpenPositions,
		snap.OpenOrders,
	); err != nil && w.log != nil {
		w.log.Warn("timescale equity insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCandle(ctx context.Context, candle Candle) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, interval, open, high, low, close, volume
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, symbol, interval) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`, w.table("market_ohlc"))
	if _, err := w.db.ExecContext(ctx, query,
		candle.Start,
		candle.Symbol,
		candle.Interval,
		candle.Open,
		candle.High,
		candle.Low,
		candle.Close,
		candle.Volume,
	); err != nil && w.log != nil {
		w.log.Warn("timescale candle upsert failed", zap.Error(err))
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
