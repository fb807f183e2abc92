package clickhouse

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"channel-backtest/services/engine"
)

type Options struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	BarsTable   string
	TradesTable string
}

// conn is the part of driver.Conn the client uses.
type conn interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// Client reads bars from and writes trade ledgers to ClickHouse.
type Client struct {
	conn conn
	opts Options
}

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*Client, error) {
	c, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return newClient(c, opts), nil
}

func newClient(c conn, opts Options) *Client {
	return &Client{conn: c, opts: opts}
}

func (c *Client) Close() error { return c.conn.Close() }

// BarsQuery selects one symbol and interval over [from, to). A zero to
// means no upper bound.
func BarsQuery(database, table, symbol, interval string, from, to time.Time) (string, []any) {
	q := fmt.Sprintf(`SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ?`, database, table)
	args := []any{symbol, interval, uint64(from.UnixMilli())}
	if !to.IsZero() {
		q += " AND open_time_ms < ?"
		args = append(args, uint64(to.UnixMilli()))
	}
	q += " ORDER BY open_time_ms"
	return q, args
}

// LoadBars returns the bars of symbol in timestamp order. Rows are not
// validated here; callers pass them through the same checks as file input.
func (c *Client) LoadBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]engine.Bar, error) {
	q, args := BarsQuery(c.opts.Database, c.opts.BarsTable, symbol, interval, from, to)
	rows, err := c.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var ms uint64
		var b engine.Bar
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Timestamp = time.UnixMilli(int64(ms)).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// EnsureTradesTable creates the ledger table if needed.
func (c *Client) EnsureTradesTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			run_id String,
			symbol String,
			side LowCardinality(String),
			entry_time DateTime64(3, 'UTC'),
			exit_time DateTime64(3, 'UTC'),
			entry_price Float64,
			exit_price Float64,
			size Float64,
			risk_price Nullable(Float64),
			pnl_abs Float64,
			pnl_r Nullable(Float64)
		)
		ENGINE = MergeTree
		ORDER BY (run_id, exit_time)
	`, c.opts.Database, c.opts.TradesTable)
	return c.conn.Exec(ctx, ddl)
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// InsertTrades appends a ledger under runID in a single batch.
func (c *Client) InsertTrades(ctx context.Context, runID string, trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.opts.Database, c.opts.TradesTable))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, t := range trades {
		if err := batch.Append(
			runID, t.Symbol, string(t.Side),
			t.EntryTime, t.ExitTime,
			t.EntryPrice, t.ExitPrice, t.Size,
			nullable(t.RiskPrice),
			t.PnlAbs,
			nullable(t.PnlR),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	return nil
}
