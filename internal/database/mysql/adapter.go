package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	driver "github.com/go-sql-driver/mysql"
)

type Adapter struct {
	db *sql.DB
	qb squirrel.StatementBuilderType
}

var constraintRegex = regexp.MustCompile("CONSTRAINT\\s+`?([^`\\s]+)`?\\s+FOREIGN KEY")

var tlsParams = strings.NewReplacer(
	"ssl-mode=REQUIRED", "tls=skip-verify",
	"ssl-mode=DISABLED", "tls=false",
	"ssl-mode=VERIFY_CA", "tls=true",
	"ssl-mode=VERIFY_IDENTITY", "tls=true",
	"sslmode=require", "tls=skip-verify",
	"sslmode=disable", "tls=false",
	"sslmode=verify-ca", "tls=true",
	"sslmode=verify-full", "tls=true",
)

func New() *Adapter {
	return &Adapter{
		qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// DSN converts a mysql:// URL into a go-sql-driver DSN. Anything else is
// returned as is.
func DSN(url string) string {
	if !strings.HasPrefix(url, "mysql://") {
		return url
	}
	dsn := strings.TrimPrefix(url, "mysql://")

	atIndex := strings.LastIndex(dsn, "@")
	if atIndex <= 0 {
		return dsn
	}
	credentials := dsn[:atIndex]
	remainder := dsn[atIndex+1:]

	slashIndex := strings.Index(remainder, "/")
	if slashIndex <= 0 {
		return dsn
	}
	hostPort := remainder[:slashIndex]
	dbAndParams := tlsParams.Replace(remainder[slashIndex+1:])

	return fmt.Sprintf("%s@tcp(%s)/%s", credentials, hostPort, dbAndParams)
}

func (m *Adapter) Connect(ctx context.Context, url string) error {
	db, err := sql.Open("mysql", DSN(url))
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)

	m.db = db
	return nil
}

func (m *Adapter) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *Adapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *Adapter) DB() *sql.DB { return m.db }

func (m *Adapter) Builder() squirrel.StatementBuilderType { return m.qb }

func (m *Adapter) Savepoints() bool { return false }

// ConstraintName reads the constraint out of a foreign key failure
// (error 1452 and friends), which MySQL only reports inside the message text.
func (m *Adapter) ConstraintName(err error) string {
	var myErr *driver.MySQLError
	msg := ""
	if errors.As(err, &myErr) {
		msg = myErr.Message
	} else if err != nil {
		msg = err.Error()
	}
	if match := constraintRegex.FindStringSubmatch(msg); match != nil {
		return match[1]
	}
	return ""
}

func (m *Adapter) MarkerTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id VARCHAR(255) NOT NULL PRIMARY KEY,
		imported_at DATETIME NOT NULL
	) ENGINE = InnoDB`, table)
}
