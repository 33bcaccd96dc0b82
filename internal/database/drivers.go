// Package database registers SQL drivers and builds *sql.DB handles.
// Structured as a multi-driver registry, mirroring the on-prem agent's
// driver switch: both Postgres and MySQL drivers are registered and
// selectable here. The Event Store Adapter's queries (internal/repository)
// are written in Postgres dialect (`$N` placeholders, `RETURNING id`), so
// DriverMySQL is a registered, dialable extension point, not a drop-in
// swap — a MySQL-backed deployment would need a MySQL-dialect
// repository alongside the Postgres one in internal/repository.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Driver identifies a supported database backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Open opens a connection pool for the given driver and DSN.
func Open(driver Driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	case DriverMySQL:
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
