package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hatlonely/repox/plan"
	"github.com/hatlonely/repox/schema"
	"github.com/pkg/errors"
)

// Dialect SQL 方言，和 database/sql 的驱动名一致
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

func (d *Dialect) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "mysql":
		*d = DialectMySQL
	case "sqlite", "sqlite3":
		*d = DialectSQLite
	case "postgres", "postgresql", "pg":
		*d = DialectPostgres
	default:
		return errors.Errorf("unsupported dialect %q", text)
	}
	return nil
}

func (d Dialect) quote(name string) string {
	if d == DialectMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// rebind 把 ? 占位符换成方言的占位符
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) limit(offset, limit int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		switch d {
		case DialectSQLite:
			return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
		case DialectMySQL:
			return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", offset)
		}
		return fmt.Sprintf(" OFFSET %d", offset)
	}
	return ""
}

// lock SQLite 没有行锁
func (d Dialect) lock(mode plan.LockMode, root string) string {
	switch d {
	case DialectMySQL:
		switch mode {
		case plan.LockPessimisticRead:
			return " LOCK IN SHARE MODE"
		case plan.LockPessimisticWrite:
			return " FOR UPDATE"
		}
	case DialectPostgres:
		switch mode {
		case plan.LockPessimisticRead:
			return " FOR SHARE OF " + root
		case plan.LockPessimisticWrite:
			return " FOR UPDATE OF " + root
		}
	}
	return ""
}

// readOnly 是否支持只读事务
func (d Dialect) readOnly() bool {
	return d == DialectMySQL || d == DialectPostgres
}

func (d Dialect) lastInsertID() string {
	if d == DialectMySQL {
		return "SELECT LAST_INSERT_ID()"
	}
	return "SELECT last_insert_rowid()"
}

func (d Dialect) columnType(f schema.Field, primary bool) string {
	if primary && f.Type == schema.TypeInt {
		switch d {
		case DialectMySQL:
			return "BIGINT AUTO_INCREMENT PRIMARY KEY"
		case DialectPostgres:
			return "BIGSERIAL PRIMARY KEY"
		}
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	var typ string
	switch f.Type {
	case schema.TypeInt:
		typ = "BIGINT"
	case schema.TypeFloat:
		typ = "DOUBLE PRECISION"
		if d == DialectMySQL {
			typ = "DOUBLE"
		}
	case schema.TypeBool:
		typ = "BOOLEAN"
	case schema.TypeTime:
		typ = "TIMESTAMP"
		if d == DialectMySQL {
			typ = "DATETIME"
		}
	default:
		typ = "VARCHAR(255)"
	}
	if primary {
		return typ + " PRIMARY KEY"
	}
	return typ + " NULL"
}
