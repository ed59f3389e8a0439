// Package catalogdb is the sqlite implementation of catalogstore.Store.
package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	// NOTE: required to register the dialect for goqu.
	//
	// If you remove this import, goqu.Dialect("sqlite3") will
	// return a copy of the default dialect, which is not what we want.
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	_ "github.com/glebarez/go-sqlite"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
)

var tracer = otel.Tracer("catalog-sync/pkg.catalogdb")

const timeFormat = "2006-01-02 15:04:05.999999999"

type tableDescriptor interface {
	Name() string
	Version() string
	Schema() (string, []interface{})
	Migrations(ctx context.Context, db *goqu.Database) error
}

var allTableDescriptors = []tableDescriptor{
	products,
	categories,
	images,
}

type pragma struct {
	name  string
	value string
}

type DB struct {
	rawDb      *sql.DB
	db         *goqu.Database
	dbFilePath string
	pragmas    []pragma
	now        func() time.Time
}

var _ catalogstore.Store = (*DB)(nil)

type Option func(*DB)

func WithPragma(name string, value string) Option {
	return func(o *DB) {
		o.pragmas = append(o.pragmas, pragma{name, value})
	}
}

// WithClock overrides the source of created_at/updated_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *DB) {
		o.now = now
	}
}

// Open returns a DB for the given sqlite file, creating the schema if needed.
func Open(ctx context.Context, dbFilePath string, opts ...Option) (*DB, error) {
	ctx, span := tracer.Start(ctx, "catalogdb.Open")
	defer span.End()

	rawDB, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY between our own statements.
	rawDB.SetMaxOpenConns(1)

	d := &DB{
		rawDb:      rawDB,
		db:         goqu.New("sqlite3", rawDB),
		dbFilePath: dbFilePath,
		pragmas: []pragma{
			{"busy_timeout", "5000"},
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	if err := d.init(ctx); err != nil {
		_ = rawDB.Close()
		return nil, err
	}

	ctxzap.Extract(ctx).Debug("catalog store opened", zap.String("path", dbFilePath))

	return d, nil
}

func (d *DB) init(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "DB.init")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return err
	}

	for _, pragma := range d.pragmas {
		_, err := d.db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", pragma.name, pragma.value))
		if err != nil {
			return err
		}
	}

	return d.InitTables(ctx)
}

func (d *DB) InitTables(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "DB.InitTables")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return err
	}

	for _, t := range allTableDescriptors {
		query, args := t.Schema()
		_, err := d.db.ExecContext(ctx, fmt.Sprintf(query, args...))
		if err != nil {
			return fmt.Errorf("catalogdb: creating %s: %w", t.Name(), err)
		}
		err = t.Migrations(ctx, d.db)
		if err != nil {
			return fmt.Errorf("catalogdb: migrating %s: %w", t.Name(), err)
		}
	}

	return nil
}

func (d *DB) Close() error {
	if d.rawDb == nil {
		return nil
	}
	err := d.rawDb.Close()
	d.rawDb = nil
	d.db = nil
	return err
}

func (d *DB) validateDb(ctx context.Context) error {
	if d.db == nil {
		return fmt.Errorf("catalogdb: database has not been opened")
	}

	return nil
}

func (d *DB) timestamp() string {
	return d.now().UTC().Format(timeFormat)
}

func isBusy(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked"))
}

// exec runs a write statement, retrying briefly while the database is locked.
func (d *DB) exec(ctx context.Context, q interface {
	ToSQL() (string, []interface{}, error)
}) (sql.Result, error) {
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, err
	}

	l := ctxzap.Extract(ctx)
	maxRetries := 5
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := d.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if isBusy(err) && attempt < maxRetries-1 {
			backoffDuration := time.Duration(attempt+1) * 10 * time.Millisecond
			l.Debug("database busy, retrying", zap.Int("attempt", attempt+1), zap.Duration("backoff", backoffDuration))
			select {
			case <-time.After(backoffDuration):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("catalogdb: statement failed after %d retries", maxRetries)
}

func (d *DB) count(ctx context.Context, table string, where ...goqu.Expression) (int64, error) {
	q := d.db.From(table).Select(goqu.COUNT("*")).Prepared(true)
	if len(where) > 0 {
		q = q.Where(where...)
	}
	query, args, err := q.ToSQL()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return catalogstore.ErrNotFound
	}
	return err
}

func nullable(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptrInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
