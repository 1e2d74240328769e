// Package sqldriver implements storage.Driver on ent's dialect-aware SQL
// builders. The sqlite and postgres packages embed SQLDriver with their own
// Dialect.
package sqldriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/chatstream/pkg/llm"
	"github.com/papercomputeco/chatstream/pkg/storage"
)

const table = "transcripts"

var columns = []string{
	"id",
	"provider",
	"model",
	"path",
	"prompt",
	"text",
	"state",
	"finish_reason",
	"usage",
	"error",
	"http_status",
	"started_at",
	"completed_at",
}

// Dialect carries what differs between databases.
type Dialect struct {
	// Name is an ent dialect name, dialect.SQLite or dialect.Postgres.
	Name string

	// TimeType is the column type used for timestamps.
	TimeType string
}

// SQLDriver implements storage.Driver over an ent SQL driver.
type SQLDriver struct {
	drv     *entsql.Driver
	dialect Dialect
}

// New wraps db. Call Migrate before use.
func New(db *sql.DB, d Dialect) *SQLDriver {
	return &SQLDriver{
		drv:     entsql.OpenDB(d.Name, db),
		dialect: d,
	}
}

func (d *SQLDriver) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.dialect.Name)
}

// Migrate creates the schema if it does not exist.
func (d *SQLDriver) Migrate(ctx context.Context) error {
	b := d.builder()

	create := b.CreateTable(table).
		IfNotExists().
		Columns(
			b.Column("id").Type("text"),
			b.Column("provider").Type("text").Attr("NOT NULL"),
			b.Column("model").Type("text").Attr("NOT NULL DEFAULT ''"),
			b.Column("path").Type("text").Attr("NOT NULL DEFAULT ''"),
			b.Column("prompt").Type("text").Attr("NOT NULL DEFAULT '[]'"),
			b.Column("text").Type("text").Attr("NOT NULL"),
			b.Column("state").Type("text").Attr("NOT NULL"),
			b.Column("finish_reason").Type("text").Attr("NOT NULL DEFAULT ''"),
			b.Column("usage").Type("text"),
			b.Column("error").Type("text").Attr("NOT NULL DEFAULT ''"),
			b.Column("http_status").Type("integer").Attr("NOT NULL DEFAULT 0"),
			b.Column("started_at").Type(d.dialect.TimeType).Attr("NOT NULL"),
			b.Column("completed_at").Type(d.dialect.TimeType).Attr("NOT NULL"),
		).
		PrimaryKey("id")

	index := b.CreateIndex("transcripts_completed_at").
		IfNotExists().
		Table(table).
		Column("completed_at")

	for _, q := range []entsql.Querier{create, index} {
		query, args := q.Query()
		if err := d.drv.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("creating %s schema: %w", d.dialect.Name, err)
		}
	}
	return nil
}

// Put stores a transcript, ignoring one whose ID already exists.
func (d *SQLDriver) Put(ctx context.Context, t *storage.Transcript) (bool, error) {
	if t == nil {
		return false, storage.ErrNilTranscript
	}

	prompt, err := json.Marshal(promptOrEmpty(t.Prompt))
	if err != nil {
		return false, fmt.Errorf("encoding prompt: %w", err)
	}

	var usage sql.NullString
	if t.Usage != nil {
		raw, err := json.Marshal(t.Usage)
		if err != nil {
			return false, fmt.Errorf("encoding usage: %w", err)
		}
		usage = sql.NullString{String: string(raw), Valid: true}
	}

	query, args := d.builder().Insert(table).
		Columns(columns...).
		Values(
			t.ID,
			t.Provider,
			t.Model,
			t.Path,
			string(prompt),
			t.Text,
			t.State,
			t.FinishReason,
			usage,
			t.Error,
			t.HTTPStatus,
			t.StartedAt.UTC(),
			t.CompletedAt.UTC(),
		).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.DoNothing(),
		).
		Query()

	var res sql.Result
	if err := d.drv.Exec(ctx, query, args, &res); err != nil {
		return false, fmt.Errorf("inserting transcript %s: %w", t.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting transcript %s: %w", t.ID, err)
	}
	return n > 0, nil
}

// Get retrieves a transcript by ID.
func (d *SQLDriver) Get(ctx context.Context, id string) (*storage.Transcript, error) {
	b := d.builder()
	query, args := b.Select(columns...).
		From(b.Table(table)).
		Where(entsql.EQ("id", id)).
		Query()

	found, err := d.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("reading transcript %s: %w", id, err)
	}
	if len(found) == 0 {
		return nil, storage.NotFoundError{ID: id}
	}
	return found[0], nil
}

// List returns transcripts, most recently completed first.
func (d *SQLDriver) List(ctx context.Context, opts storage.ListOptions) ([]*storage.Transcript, error) {
	b := d.builder()
	sel := b.Select(columns...).From(b.Table(table))
	if opts.Provider != "" {
		sel.Where(entsql.EQ("provider", opts.Provider))
	}
	sel.OrderBy(entsql.Desc("completed_at"), "id")
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}

	query, args := sel.Query()
	found, err := d.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}
	return found, nil
}

// Truncate removes every transcript.
func (d *SQLDriver) Truncate(ctx context.Context) error {
	query, args := d.builder().Delete(table).Query()
	return d.drv.Exec(ctx, query, args, nil)
}

// Close closes the database.
func (d *SQLDriver) Close() error {
	return d.drv.Close()
}

func (d *SQLDriver) query(ctx context.Context, query string, args []any) ([]*storage.Transcript, error) {
	rows := &entsql.Rows{}
	if err := d.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*storage.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(s scanner) (*storage.Transcript, error) {
	var (
		t                      storage.Transcript
		prompt                 string
		usage                  sql.NullString
		startedAt, completedAt time.Time
	)

	err := s.Scan(
		&t.ID,
		&t.Provider,
		&t.Model,
		&t.Path,
		&prompt,
		&t.Text,
		&t.State,
		&t.FinishReason,
		&usage,
		&t.Error,
		&t.HTTPStatus,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(prompt), &t.Prompt); err != nil {
		return nil, fmt.Errorf("decoding prompt: %w", err)
	}
	if usage.Valid {
		t.Usage = &llm.Usage{}
		if err := json.Unmarshal([]byte(usage.String), t.Usage); err != nil {
			return nil, fmt.Errorf("decoding usage: %w", err)
		}
	}
	t.StartedAt = startedAt.UTC()
	t.CompletedAt = completedAt.UTC()
	return &t, nil
}

func promptOrEmpty(p []llm.Message) []llm.Message {
	if p == nil {
		return []llm.Message{}
	}
	return p
}
