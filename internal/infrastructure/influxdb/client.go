package influxdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/graystone-av/dsp-core/internal/infrastructure/config"
	"github.com/graystone-av/dsp-core/internal/infrastructure/logging"
)

// Sentinel errors for InfluxDB operations.
var (
	// ErrNotConnected indicates the client has not been initialised or the
	// server is unreachable.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed indicates a point could not be written.
	ErrWriteFailed = errors.New("influxdb: write failed")
)

// healthCheckTimeout bounds the startup connectivity probe.
const healthCheckTimeout = 5 * time.Second

// Client wraps the InfluxDB v2 client for meter archival.
// All writes go through the blocking write API; the meter ingestor already
// downsamples to the archive interval so write volume is low.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	cfg      config.InfluxDBConfig
	logger   *logging.Logger
}

// New creates an InfluxDB client from configuration and verifies
// connectivity with a health check.
func New(ctx context.Context, cfg config.InfluxDBConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(uint(cfg.BatchSize)))

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		cfg:      cfg,
		logger:   logger.With("component", "influxdb"),
	}

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("%w: health status %s", ErrNotConnected, health.Status)
	}

	c.logger.Info("influxdb connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return c, nil
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// HealthCheck verifies the InfluxDB server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.client == nil {
		return ErrNotConnected
	}
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("%w: health status %s", ErrNotConnected, health.Status)
	}
	return nil
}
