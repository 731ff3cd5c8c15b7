package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	samplesTable         = "eeg_samples"
	classificationsTable = "eeg_classifications"
)

// schema creates the recording tables when they do not exist yet.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + samplesTable + ` (
		session_id  String,
		ts          Float64,
		channel     UInt16,
		value       Float64,
		recorded_at DateTime64(3) DEFAULT now64(3)
	) ENGINE = MergeTree
	ORDER BY (session_id, channel, ts)`,

	`CREATE TABLE IF NOT EXISTS ` + classificationsTable + ` (
		session_id    String,
		received_at   DateTime64(3),
		label         String,
		confidence    Float64,
		probabilities Array(Float64)
	) ENGINE = MergeTree
	ORDER BY (session_id, received_at)`,
}

// ClickHouseConfig holds the connection settings for [OpenClickHouse].
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string

	// DialTimeout bounds each connection attempt. Defaults to 5s.
	DialTimeout time.Duration
}

// ClickHouse is a [Writer] backed by a ClickHouse server. Rows are sent
// with the native batch protocol.
type ClickHouse struct {
	conn driver.Conn
	addr string
}

var _ Writer = (*ClickHouse)(nil)

// OpenClickHouse connects to the server, verifies it with a ping and
// creates the recording tables.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: open clickhouse %s: %w", cfg.Addr, err)
	}

	c := &ClickHouse{conn: conn, addr: cfg.Addr}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	for _, ddl := range schema {
		if err := conn.Exec(ctx, ddl); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("recorder: create schema: %w", err)
		}
	}
	slog.Info("connected to clickhouse", "addr", cfg.Addr, "database", cfg.Database)
	return c, nil
}

// WriteSamples implements [Writer].
func (c *ClickHouse) WriteSamples(ctx context.Context, rows []SampleRow) error {
	return c.send(ctx, samplesTable, len(rows), func(b driver.Batch) error {
		for _, r := range rows {
			if err := b.Append(r.SessionID, r.TS, r.Channel, r.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteClassifications implements [Writer].
func (c *ClickHouse) WriteClassifications(ctx context.Context, rows []ClassificationRow) error {
	return c.send(ctx, classificationsTable, len(rows), func(b driver.Batch) error {
		for _, r := range rows {
			if err := b.Append(r.SessionID, r.ReceivedAt, r.Label, r.Confidence, r.Probabilities); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *ClickHouse) send(ctx context.Context, table string, n int, fill func(driver.Batch) error) error {
	if n == 0 {
		return nil
	}
	b, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("recorder: prepare %s: %w", table, err)
	}
	if err := fill(b); err != nil {
		_ = b.Abort()
		return fmt.Errorf("recorder: append %s: %w", table, err)
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("recorder: send %d rows to %s: %w", n, table, err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (c *ClickHouse) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("recorder: ping clickhouse %s: %w", c.addr, err)
	}
	return nil
}

// Close closes the connection pool.
func (c *ClickHouse) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("recorder: close clickhouse: %w", err)
	}
	return nil
}
