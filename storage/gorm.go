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
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormOptions struct {
	Driver        Dialect       `cfg:"driver" def:"sqlite3"`
	DSN           string        `cfg:"dsn" def:":memory:"`
	MaxConns      int           `cfg:"maxConns" def:"10"`
	SlowThreshold time.Duration `cfg:"slowThreshold" def:"200ms"`
	Migrate       bool          `cfg:"migrate"`

	// 为空时使用默认日志器
	Logger *log.Options `cfg:"logger"`
}

// Gorm 通过 gorm 执行生成的 SQL，语句日志输出到 log.Logger
type Gorm struct {
	executor
	db      *gorm.DB
	migrate bool
}

func NewGorm(reg *schema.Registry, db *gorm.DB, dialect Dialect) *Gorm {
	return &Gorm{executor: executor{builder{reg: reg, dialect: dialect}}, db: db}
}

func NewGormWithOptions(options *GormOptions) (*Gorm, error) {
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

	var dialector gorm.Dialector
	switch options.Driver {
	case DialectSQLite:
		dialector = sqlite.Open(options.DSN)
	case DialectMySQL:
		dialector = mysql.Open(options.DSN)
	default:
		return nil, errors.Errorf("unsupported gorm driver: %s", options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(l, options.SlowThreshold),
	})
	if err != nil {
		return nil, errors.Wrap(err, "gorm.Open failed")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "db.DB failed")
	}
	sqlDB.SetMaxOpenConns(options.MaxConns)
	if options.Driver == DialectSQLite && strings.Contains(options.DSN, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
	}

	return &Gorm{executor: executor{builder{dialect: options.Driver}}, db: db, migrate: options.Migrate}, nil
}

func (g *Gorm) attach(reg *schema.Registry) error {
	g.reg = reg
	if g.migrate {
		return g.Migrate(context.Background())
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) Migrate(ctx context.Context) error {
	return g.executor.migrate(func(text string) error {
		return g.db.WithContext(ctx).Exec(text).Error
	})
}

// gormQueryer 让 gorm 的 Raw 查询满足 queryer
type gormQueryer struct {
	db *gorm.DB
}

func (q gormQueryer) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.WithContext(ctx).Raw(query, args...).Rows()
}

func (g *Gorm) Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error) {
	if (!p.Fetch.ReadOnly && p.Fetch.Lock == plan.LockNone) || g.dialect == DialectSQLite {
		return g.query(ctx, gormQueryer{db: g.db}, p)
	}

	var rows []Row
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = g.query(ctx, gormQueryer{db: tx}, p)
		return err
	}, &sql.TxOptions{ReadOnly: p.Fetch.ReadOnly && p.Fetch.Lock == plan.LockNone})
	if err != nil {
		return nil, errs.Storage("execute", err)
	}
	return rows, nil
}

func (g *Gorm) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	return g.count(ctx, gormQueryer{db: g.db}, p)
}

func (g *Gorm) ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	stmt, err := g.modification(p)
	if err != nil {
		return 0, err
	}
	res := g.db.WithContext(ctx).Exec(stmt.Text, stmt.Args...)
	if res.Error != nil {
		return 0, errs.Storage("modify", res.Error)
	}
	return res.RowsAffected, nil
}

// Insert 在同一个事务里读取自增主键
func (g *Gorm) Insert(ctx context.Context, e *schema.Entity, row Row) (any, error) {
	stmt, err := g.insertStatement(e, row)
	if err != nil {
		return nil, err
	}
	var id any
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(stmt.Text, stmt.Args...).Error; err != nil {
			return err
		}
		if row[e.ID] != nil {
			id = row[e.ID]
			return nil
		}
		var generated int64
		if err := tx.Raw(g.dialect.lastInsertID()).Row().Scan(&generated); err != nil {
			return err
		}
		id = generated
		return nil
	})
	if err != nil {
		return nil, errs.Storage("insert", err)
	}
	return normalize(e.IDField(), id)
}

// GormLogger 把 gorm 的日志转到 log.Logger
type GormLogger struct {
	logger        log.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

func NewGormLogger(l log.Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{logger: l.With("component", "gorm"), level: logger.Info, slowThreshold: slowThreshold}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, msg, "data", data)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, msg, "data", data)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, msg, "data", data)
	}
}

// Trace 语句成功时输出 debug 日志，慢查询输出 warn，失败输出 error
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	text, rows := fc()
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		l.logger.ErrorContext(ctx, "gorm query failed", "sql", text, "rows", rows, "duration_ms", elapsed.Milliseconds(), "error", err)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		l.logger.WarnContext(ctx, "gorm slow query", "sql", text, "rows", rows, "duration_ms", elapsed.Milliseconds())
	case l.level >= logger.Info:
		l.logger.DebugContext(ctx, "gorm query", "sql", text, "rows", rows, "duration_ms", elapsed.Milliseconds())
	}
}
