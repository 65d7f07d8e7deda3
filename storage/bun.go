package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hatlonely/repox/cfg"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/log"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type BunOptions struct {
	Driver        Dialect       `cfg:"driver" def:"sqlite3"`
	DSN           string        `cfg:"dsn" def:"file::memory:?cache=shared"`
	MaxConns      int           `cfg:"maxConns" def:"10"`
	SlowThreshold time.Duration `cfg:"slowThreshold" def:"200ms"`
	Migrate       bool          `cfg:"migrate"`

	// 打开 bundebug，输出受 BUNDEBUG 环境变量控制
	Debug  bool         `cfg:"debug"`
	Logger *log.Options `cfg:"logger"`
}

// Bun 通过 bun 执行生成的 SQL，参数由 bun 在客户端格式化
type Bun struct {
	executor
	db      *bun.DB
	migrate bool
}

func NewBun(reg *schema.Registry, db *bun.DB, dialect Dialect) *Bun {
	return &Bun{executor: executor{builder{reg: reg, dialect: dialect, interpolated: true}}, db: db}
}

func NewBunWithOptions(options *BunOptions) (*Bun, error) {
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	l := log.Default()
	if options.Logger != nil {
		sl, err := log.NewLoggerWithOptions(options.Logger)
		if err != nil {
			return nil, errors.WithMessage(err, "log.NewLoggerWithOptions failed")
		}
		l = sl
	}

	var db *bun.DB
	switch options.Driver {
	case DialectSQLite:
		sqlDB, err := sql.Open(sqliteshim.ShimName, options.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "sql.Open failed")
		}
		if strings.Contains(options.DSN, ":memory:") {
			options.MaxConns = 1
		}
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	case DialectMySQL:
		sqlDB, err := sql.Open("mysql", options.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "sql.Open failed")
		}
		db = bun.NewDB(sqlDB, mysqldialect.New())
	case DialectPostgres:
		sqlDB, err := sql.Open("postgres", options.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "sql.Open failed")
		}
		db = bun.NewDB(sqlDB, pgdialect.New())
	default:
		return nil, errors.Errorf("unsupported bun driver: %s", options.Driver)
	}
	db.SetMaxOpenConns(options.MaxConns)

	if options.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	db.AddQueryHook(&BunQueryHook{logger: l.With("component", "bun"), slowThreshold: options.SlowThreshold})

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "db.Ping failed")
	}

	s := NewBun(nil, db, options.Driver)
	s.migrate = options.Migrate
	return s, nil
}

func (b *Bun) attach(reg *schema.Registry) error {
	b.reg = reg
	if b.migrate {
		return b.Migrate(context.Background())
	}
	return nil
}

func (b *Bun) DB() *bun.DB {
	return b.db
}

func (b *Bun) Close() error {
	return b.db.Close()
}

func (b *Bun) Migrate(ctx context.Context) error {
	return b.executor.migrate(func(text string) error {
		_, err := b.db.ExecContext(ctx, text)
		return err
	})
}

func (b *Bun) Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error) {
	readOnly := p.Fetch.ReadOnly && b.dialect.readOnly()
	locked := p.Fetch.Lock != plan.LockNone && b.dialect != DialectSQLite
	if !readOnly && !locked {
		return b.query(ctx, b.db, p)
	}

	var rows []Row
	err := b.db.RunInTx(ctx, &sql.TxOptions{ReadOnly: readOnly && !locked}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		rows, err = b.query(ctx, &tx, p)
		return err
	})
	if err != nil {
		return nil, errs.Storage("execute", err)
	}
	return rows, nil
}

func (b *Bun) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	return b.count(ctx, b.db, p)
}

func (b *Bun) ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	stmt, err := b.modification(p)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return 0, errs.Storage("modify", err)
	}
	n, err := res.RowsAffected()
	return n, errs.Storage("modify", err)
}

func (b *Bun) Insert(ctx context.Context, e *schema.Entity, row Row) (any, error) {
	stmt, err := b.insertStatement(e, row)
	if err != nil {
		return nil, err
	}
	if b.dialect == DialectPostgres {
		var id any
		if err := b.db.QueryRowContext(ctx, stmt.Text, stmt.Args...).Scan(&id); err != nil {
			return nil, errs.Storage("insert", err)
		}
		return normalize(e.IDField(), id)
	}
	res, err := b.db.ExecContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, errs.Storage("insert", err)
	}
	if row[e.ID] != nil {
		return normalize(e.IDField(), row[e.ID])
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errs.Storage("insert", err)
	}
	return id, nil
}

// BunQueryHook 语句日志，慢查询输出 warn
type BunQueryHook struct {
	logger        log.Logger
	slowThreshold time.Duration
}

var _ bun.QueryHook = (*BunQueryHook)(nil)

func (h *BunQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *BunQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.logger.ErrorContext(ctx, "bun query failed", "operation", event.Operation(), "sql", event.Query, "duration_ms", duration.Milliseconds(), "error", event.Err)
	case h.slowThreshold > 0 && duration > h.slowThreshold:
		h.logger.WarnContext(ctx, "bun slow query", "operation", event.Operation(), "sql", event.Query, "duration_ms", duration.Milliseconds())
	default:
		h.logger.DebugContext(ctx, "bun query", "operation", event.Operation(), "sql", event.Query, "duration_ms", duration.Milliseconds())
	}
}
