package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
)

type InfluxConfig struct {
	APIRoot      string
	Organization string
	Bucket       string
	Token        string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Influx writes batches to an InfluxDB v2 bucket through the blocking write
// API, one request per batch.
type Influx struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	timeout time.Duration
	logger  *slog.Logger
}

func NewInflux(cfg InfluxConfig) *Influx {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	secs := uint(math.Ceil(cfg.Timeout.Seconds()))
	if secs == 0 {
		secs = 1
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(secs).
		SetPrecision(time.Nanosecond)
	client := influxdb2.NewClientWithOptions(cfg.APIRoot, cfg.Token, opts)
	return &Influx{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Organization, cfg.Bucket),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

func (p *Influx) Publish(ctx context.Context, b Batch) Result {
	if len(b.Fields) == 0 {
		return Result{Outcome: Skipped}
	}
	line, err := Line(b)
	if err != nil {
		return Result{Outcome: Invalid, Err: err}
	}
	p.logger.LogAttrs(ctx, slog.LevelDebug, "Writing line", slog.String("line", line))
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.writer.WriteRecord(ctx, line)
	return classifyInflux(ctx, err)
}

func (p *Influx) Close() error {
	p.client.Close()
	return nil
}

func classifyInflux(ctx context.Context, err error) Result {
	if err == nil {
		return Result{Outcome: Accepted}
	}
	if timedOut(ctx, err) {
		return Result{Outcome: TimedOut, Err: err}
	}
	var herr *influxhttp.Error
	if errors.As(err, &herr) && herr.StatusCode >= 300 {
		return Result{Outcome: Rejected, StatusCode: herr.StatusCode, Err: err}
	}
	return Result{Outcome: NetworkError, Err: err}
}
