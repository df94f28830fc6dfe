package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// MeterSample is one archived meter reading for a single channel.
type MeterSample struct {
	ProcessorID string
	Direction   string // "input" or "output"
	Index       int
	Level       float64 // dBFS
	Peak        float64 // dBFS
	Clip        bool
	Timestamp   time.Time
}

// WriteMeterSample archives a single downsampled meter reading.
//
// Measurement: meter_levels
// Tags: processor, direction, channel
// Fields: level, peak, clip
func (c *Client) WriteMeterSample(ctx context.Context, s MeterSample) error {
	if c.writeAPI == nil {
		return ErrNotConnected
	}

	p := influxdb2.NewPoint("meter_levels",
		map[string]string{
			"processor": s.ProcessorID,
			"direction": s.Direction,
			"channel":   strconv.Itoa(s.Index),
		},
		map[string]interface{}{
			"level": s.Level,
			"peak":  s.Peak,
			"clip":  s.Clip,
		},
		s.Timestamp,
	)

	if err := c.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// WriteMeterBatch archives a batch of samples, stopping at the first error.
// Samples within a batch share a timestamp (one downsample tick).
func (c *Client) WriteMeterBatch(ctx context.Context, samples []MeterSample) error {
	for _, s := range samples {
		if err := c.WriteMeterSample(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// WriteConnectionEvent records a connection state transition for a processor.
// Useful for correlating audio dropouts with network issues after the fact.
func (c *Client) WriteConnectionEvent(ctx context.Context, processorID, state string) error {
	if c.writeAPI == nil {
		return ErrNotConnected
	}

	p := influxdb2.NewPoint("connection_events",
		map[string]string{"processor": processorID},
		map[string]interface{}{"state": state},
		time.Now(),
	)

	if err := c.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
