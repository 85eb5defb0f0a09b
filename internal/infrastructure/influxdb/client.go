package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client batches capture and round telemetry into one bucket.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	instance string

	closed  atomic.Bool
	onError atomic.Pointer[func(error)]
}

// options maps the config onto the client's batching settings.
func options(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// Connect checks the server is reachable and returns a client writing to
// cfg.Bucket. Every point is tagged with instance.
func Connect(cfg config.InfluxDBConfig, instance string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		instance: instance,
	}
	go c.forwardErrors()
	return c, nil
}

// forwardErrors drains the asynchronous write errors until Close.
func (c *Client) forwardErrors() {
	for err := range c.writeAPI.Errors() {
		if fn := c.onError.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// SetOnError sets the callback for failed batch writes.
func (c *Client) SetOnError(fn func(err error)) {
	if fn == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&fn)
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends buffered points now. It does nothing after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close sends buffered points and releases the client. Repeated calls
// and calls on a nil client are no-ops.
func (c *Client) Close() error {
	if c == nil || c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
