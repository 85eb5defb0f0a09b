package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementCapture = "capture"
	measurementRound   = "round"
)

// WriteCaptureMetric records one successful capture.
func (c *Client) WriteCaptureMetric(runID string, plate int, daytime bool, brightness float64, duration time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(capturePoint(c.instance, runID, plate, daytime, brightness, duration, at))
}

// WriteRoundMetric records the end of a round and the shots left.
func (c *Client) WriteRoundMetric(runID string, round, remaining int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(roundPoint(c.instance, runID, round, remaining, at))
}

func capturePoint(instance, runID string, plate int, daytime bool, brightness float64, duration time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		measurementCapture,
		map[string]string{
			"instance": instance,
			"run_id":   runID,
			"plate":    strconv.Itoa(plate),
			"daytime":  strconv.FormatBool(daytime),
		},
		map[string]any{
			"brightness":  brightness,
			"duration_ms": duration.Milliseconds(),
		},
		at,
	)
}

func roundPoint(instance, runID string, round, remaining int, at time.Time) *write.Point {
	return write.NewPoint(
		measurementRound,
		map[string]string{
			"instance": instance,
			"run_id":   runID,
		},
		map[string]any{
			"round":     round,
			"remaining": remaining,
		},
		at,
	)
}
