package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
)

const (
	defaultPingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Client mirrors sensor readings and actuator events into an InfluxDB v2
// bucket. The SQL store stays authoritative: a lost point is logged through
// the error callback and never retried.
//
// Writes are non-blocking and batched by the underlying WriteAPI.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	open     atomic.Bool
	failures atomic.Uint64

	mu      sync.Mutex
	onError func(err error)
}

// Connect creates the client, pings the server and starts the batched write
// API. It returns ErrDisabled when the mirror is switched off in config.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(positiveOr(cfg.BatchSize, defaultBatchSize)).
		SetFlushInterval(positiveOr(cfg.FlushInterval, defaultFlushInterval) * uint(time.Second/time.Millisecond))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s not ready", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	c.open.Store(true)

	go c.drainErrors(c.writeAPI.Errors())

	return c, nil
}

func positiveOr(v, def int) uint {
	if v <= 0 {
		v = def
	}
	return uint(v) //nolint:gosec // Non-negative by construction
}

// drainErrors forwards asynchronous batch failures to the callback. The
// channel closes when the client does.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)

		c.mu.Lock()
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(fmt.Errorf("%w: bucket %s: %w", ErrWriteFailed, c.bucket, err))
		}
	}
}

// Close flushes pending points and shuts the client down. Safe on nil and
// safe to call twice.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.open.CompareAndSwap(true, false) {
		c.writeAPI.Flush()
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not ready")
	}
	return nil
}

// IsConnected reports whether the client is open. It does not ping.
func (c *Client) IsConnected() bool {
	return c != nil && c.open.Load()
}

// WriteFailures returns how many batches the server rejected since Connect.
func (c *Client) WriteFailures() uint64 {
	if c == nil {
		return 0
	}
	return c.failures.Load()
}

// SetOnError sets the callback for asynchronous write failures. Errors
// passed to it match ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
