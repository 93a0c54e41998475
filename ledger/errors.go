package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpExec   = "exec"
)

// ErrClosed is returned by calls on a closed ledger.
var ErrClosed = errors.New("ledger closed")

// ConstraintViolation reports a write the ledger refused: a column constraint
// on insert, or any attempt to update or delete an existing event.
type ConstraintViolation struct {
	Field   string
	Op      string
	Message string
	Cause   error
}

func (e *ConstraintViolation) Error() string {
	var b strings.Builder
	b.WriteString("ledger constraint violation")
	if e.Op != "" {
		b.WriteString(" on ")
		b.WriteString(e.Op)
	}
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ConstraintViolation) Unwrap() error {
	return e.Cause
}

// IsConstraintViolation reports whether err is or wraps a *ConstraintViolation.
func IsConstraintViolation(err error) bool {
	var cv *ConstraintViolation
	return errors.As(err, &cv)
}

// mapDriverError converts driver constraint failures into *ConstraintViolation.
// SQLite reports CHECK and trigger aborts as SQLITE_CONSTRAINT; PostgreSQL uses SQLSTATE class 23.
func mapDriverError(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &ConstraintViolation{Op: op, Field: constraintField(sqliteErr.Error()), Message: sqliteErr.Error(), Cause: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		field := pqErr.Column
		if field == "" {
			field = constraintField(pqErr.Constraint + " " + pqErr.Message)
		}
		return &ConstraintViolation{Op: op, Field: field, Message: pqErr.Message, Cause: err}
	}

	return fmt.Errorf("ledger %s: %w", op, err)
}

func constraintField(msg string) string {
	for _, field := range []string{"signal_type", "oracle_tier", "actor", "event_type"} {
		if strings.Contains(msg, field) {
			return field
		}
	}
	return ""
}

// statementOp names the operation a raw statement performs.
func statementOp(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return OpExec
	}
	switch strings.ToLower(fields[0]) {
	case "insert":
		return OpInsert
	case "update":
		return OpUpdate
	case "delete", "truncate":
		return OpDelete
	}
	return OpExec
}
