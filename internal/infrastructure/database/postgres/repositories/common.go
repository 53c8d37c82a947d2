// Package repositories implements the deal domain repositories on
// PostgreSQL.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	"github.com/turtacn/loan-portal/internal/infrastructure/monitoring/logging"
)

// queryExecutor abstracts sql.DB and sql.Tx
type queryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanner abstracts sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

type baseRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

func newBaseRepo(conn *postgres.Connection, log logging.Logger, name string) baseRepo {
	return baseRepo{conn: conn, log: logging.OrNop(log).Named(name)}
}

func (r *baseRepo) executor() queryExecutor {
	return r.conn.DB()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
