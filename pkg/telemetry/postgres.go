package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNoColumns = errors.New("no batch value maps to a configured column")

type PostgresConfig struct {
	ConnString string
	Table      string
	// Columns maps logical names (time, name, temperature, ...) to column names
	Columns map[string]string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Postgres inserts each batch as one row into a TimescaleDB table. A fresh
// connection is opened per batch since nothing survives a wake cycle.
type Postgres struct {
	connString string
	qb         *InsertBuilder
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if _, ok := cfg.Columns["time"]; !ok {
		return nil, fmt.Errorf("column time is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	return &Postgres{
		connString: cfg.ConnString,
		qb: &InsertBuilder{
			Table:   cfg.Table,
			Columns: cfg.Columns,
		},
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		now:     time.Now,
	}, nil
}

func (p *Postgres) Publish(ctx context.Context, b Batch) Result {
	if len(b.Fields) == 0 {
		return Result{Outcome: Skipped}
	}
	q, args, err := p.qb.Build(b, p.now())
	if err != nil {
		return Result{Outcome: Invalid, Err: err}
	}
	p.logger.LogAttrs(ctx, slog.LevelDebug, "Rendered query", slog.String("query", q), slog.Int("args", len(args)))
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := pgx.Connect(ctx, p.connString)
	if err != nil {
		return classifyPostgres(ctx, err)
	}
	defer conn.Close(context.Background())
	_, err = conn.Exec(ctx, q, args...)
	return classifyPostgres(ctx, err)
}

func classifyPostgres(ctx context.Context, err error) Result {
	if err == nil {
		return Result{Outcome: Accepted}
	}
	if timedOut(ctx, err) {
		return Result{Outcome: TimedOut, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return Result{Outcome: Rejected, Err: fmt.Errorf("%s: %w", pgErr.Code, err)}
	}
	return Result{Outcome: NetworkError, Err: err}
}

// InsertBuilder renders the INSERT statement for one batch. Tags and fields
// whose keys are not in the column map are left out. When no tag fills the
// name column, the measurement name is used.
type InsertBuilder struct {
	Table   string
	Columns map[string]string
}

func (q *InsertBuilder) Build(b Batch, now time.Time) (string, []any, error) {
	ts := b.Timestamp
	if ts.IsZero() {
		ts = now
	}
	columns := []string{q.Columns["time"]}
	args := []any{ts}
	nameSet := false
	for _, t := range b.Tags {
		c, ok := q.Columns[t.Key]
		if !ok {
			continue
		}
		if t.Key == "name" {
			nameSet = true
		}
		columns = append(columns, c)
		args = append(args, t.Value)
	}
	if c, ok := q.Columns["name"]; ok && !nameSet {
		columns = append(columns, c)
		args = append(args, b.Measurement)
	}
	valueColumns := 0
	for _, f := range b.Fields {
		c, ok := q.Columns[f.Key]
		if !ok {
			continue
		}
		columns = append(columns, c)
		args = append(args, f.Value)
		valueColumns++
	}
	if valueColumns == 0 {
		return "", nil, ErrNoColumns
	}
	builder := new(strings.Builder)
	builder.WriteString("INSERT INTO ")
	builder.WriteString(pgx.Identifier(strings.Split(q.Table, ".")).Sanitize())
	builder.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString(pgx.Identifier{c}.Sanitize())
	}
	builder.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString(fmt.Sprintf("$%d", i+1))
	}
	builder.WriteString(")")
	return builder.String(), args, nil
}
