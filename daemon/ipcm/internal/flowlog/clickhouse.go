// Package flowlog archives flow-allocation outcomes to ClickHouse for
// offline analysis. The archive is optional; a nil *Archive is a no-op.
package flowlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Client wraps a ClickHouse connection.
type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

// Options configures the connection.
type Options struct {
	Address  string
	Database string
	Username string
	Password string
}

// NewClient connects to ClickHouse and pings it.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Address},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	logger.Info("Connected to ClickHouse", zap.String("address", opts.Address))
	return &Client{conn: conn, logger: logger}, nil
}

// Exec runs a statement.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
