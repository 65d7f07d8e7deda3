package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/repox/cfg"
	"github.com/hatlonely/repox/errs"
	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLOptions struct {
	Driver          Dialect       `cfg:"driver" def:"mysql"`
	DSN             string        `cfg:"dsn"`
	Host            string        `cfg:"host" def:"localhost"`
	Port            string        `cfg:"port"`
	Database        string        `cfg:"database"`
	Username        string        `cfg:"username"`
	Password        string        `cfg:"password"`
	Charset         string        `cfg:"charset" def:"utf8mb4"`
	SSLMode         string        `cfg:"sslMode" def:"disable"`
	MaxConns        int           `cfg:"maxConns" def:"10"`
	MaxIdle         int           `cfg:"maxIdle" def:"5"`
	ConnMaxLifetime time.Duration `cfg:"connMaxLifetime"`

	// 创建之后按注册表建表
	Migrate bool `cfg:"migrate"`
}

// SQL database/sql 实现，支持 MySQL、SQLite、PostgreSQL
type SQL struct {
	executor
	db      *sql.DB
	migrate bool
}

// NewSQL 使用已有的连接池
func NewSQL(reg *schema.Registry, db *sql.DB, dialect Dialect) *SQL {
	return &SQL{executor: executor{builder{reg: reg, dialect: dialect}}, db: db}
}

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	if err := cfg.SetDefaults(options); err != nil {
		return nil, err
	}
	dsn, err := options.dsn()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(options.Driver), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sql.Open %s failed", options.Driver)
	}
	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)
	db.SetConnMaxLifetime(options.ConnMaxLifetime)
	// 内存数据库每个连接都是独立的库
	if options.Driver == DialectSQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "db.Ping failed")
	}

	return &SQL{executor: executor{builder{dialect: options.Driver}}, db: db, migrate: options.Migrate}, nil
}

func (o *SQLOptions) dsn() (string, error) {
	if o.DSN != "" {
		return o.DSN, nil
	}
	switch o.Driver {
	case DialectMySQL:
		c := mysql.NewConfig()
		c.User = o.Username
		c.Passwd = o.Password
		c.Net = "tcp"
		c.Addr = net.JoinHostPort(o.Host, portOr(o.Port, "3306"))
		c.DBName = o.Database
		c.ParseTime = true
		c.Loc = time.Local
		c.Params = map[string]string{"charset": o.Charset}
		return c.FormatDSN(), nil
	case DialectPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(o.Username, o.Password),
			Host:     net.JoinHostPort(o.Host, portOr(o.Port, "5432")),
			Path:     "/" + o.Database,
			RawQuery: "sslmode=" + o.SSLMode,
		}
		return u.String(), nil
	case DialectSQLite:
		if o.Database == "" {
			return ":memory:", nil
		}
		return o.Database, nil
	}
	return "", errors.Errorf("unsupported driver: %s", o.Driver)
}

func portOr(port string, def string) string {
	if port == "" {
		return def
	}
	return port
}

func (s *SQL) attach(reg *schema.Registry) error {
	s.reg = reg
	if s.migrate {
		return s.Migrate(context.Background())
	}
	return nil
}

// DB 底层连接池
func (s *SQL) DB() *sql.DB {
	return s.db
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// Migrate 为注册表中的所有实体建表
func (s *SQL) Migrate(ctx context.Context) error {
	return s.executor.migrate(func(text string) error {
		_, err := s.db.ExecContext(ctx, text)
		return err
	})
}

func (s *SQL) Execute(ctx context.Context, p *plan.QueryPlan) ([]Row, error) {
	opts, ok := s.txOptions(p.Fetch)
	if !ok {
		return s.query(ctx, s.db, p)
	}

	var rows []Row
	err := s.inTx(ctx, opts, func(tx *sql.Tx) error {
		var err error
		rows, err = s.query(ctx, tx, p)
		return err
	})
	return rows, err
}

// txOptions 只读和加锁的查询需要在事务中执行
func (s *SQL) txOptions(f plan.FetchPlan) (*sql.TxOptions, bool) {
	readOnly := f.ReadOnly && s.dialect.readOnly()
	locked := f.Lock != plan.LockNone && s.dialect != DialectSQLite
	if !readOnly && !locked {
		return nil, false
	}
	return &sql.TxOptions{ReadOnly: readOnly && !locked}, true
}

func (s *SQL) inTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return errs.Storage("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errs.Storage("commit", tx.Commit())
}

func (s *SQL) ExecuteCount(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	return s.count(ctx, s.db, p)
}

func (s *SQL) ExecuteModification(ctx context.Context, p *plan.QueryPlan) (int64, error) {
	stmt, err := s.modification(p)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return 0, errs.Storage("modify", err)
	}
	n, err := res.RowsAffected()
	return n, errs.Storage("modify", err)
}

func (s *SQL) Insert(ctx context.Context, e *schema.Entity, row Row) (any, error) {
	stmt, err := s.insertStatement(e, row)
	if err != nil {
		return nil, err
	}
	if s.dialect == DialectPostgres {
		var id any
		if err := s.db.QueryRowContext(ctx, stmt.Text, stmt.Args...).Scan(&id); err != nil {
			return nil, errs.Storage("insert", err)
		}
		return normalize(e.IDField(), id)
	}

	res, err := s.db.ExecContext(ctx, stmt.Text, stmt.Args...)
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

func (s *SQL) String() string {
	return fmt.Sprintf("SQL(%s)", s.dialect)
}
