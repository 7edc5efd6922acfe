package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row.
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row.
	mysqlCheckConstraintViolate = 3819
)

// IsConstraintError returns true if the error resulted from a database
// constraint violation of any kind.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a
// uniqueness constraint violation, e.g. a duplicate value in a unique
// index.
func IsUniqueConstraintError(err error) bool {
	return matchConstraint(err, pgUniqueViolation, []uint16{mysqlDuplicateEntry},
		"Error 1062",                 // MySQL (string fallback).
		"violates unique constraint", // Postgres (string fallback).
		"UNIQUE constraint failed",   // SQLite.
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a
// foreign-key constraint violation, e.g. a referenced row that does
// not exist.
func IsForeignKeyConstraintError(err error) bool {
	return matchConstraint(err, pgForeignKeyViolation, []uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"Error 1451",                      // MySQL parent row.
		"Error 1452",                      // MySQL child row.
		"violates foreign key constraint", // Postgres.
		"FOREIGN KEY constraint failed",   // SQLite.
	)
}

// IsCheckConstraintError reports if the error resulted from a check
// constraint violation.
func IsCheckConstraintError(err error) bool {
	return matchConstraint(err, pgCheckViolation, []uint16{mysqlCheckConstraintViolate},
		"Error 3819",                // MySQL.
		"violates check constraint", // Postgres.
		"CHECK constraint failed",   // SQLite.
	)
}

// matchConstraint checks the concrete error types of the drivers this
// module wires (pgx, pq, mysql), then falls back to message matching
// for drivers that expose neither (modernc sqlite wraps codes in its
// message).
func matchConstraint(err error, sqlstate string, mysqlCodes []uint16, substrings ...string) bool {
	if err == nil {
		return false
	}
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == sqlstate
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == sqlstate
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		for _, code := range mysqlCodes {
			if myErr.Number == code {
				return true
			}
		}
		return false
	}
	msg := err.Error()
	for _, sub := range substrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
