// Package repositories implements the data access layer (repository pattern) for LDC tools.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly; writes that must be atomic take a sqlx.ExtContext so the
// caller can pass a transaction from db.WithTx.
package repositories

import (
	"errors"
	"fmt"
	"strings"

	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
)

// Domain conditions surfaced by the repositories. Handlers map them with errors.Is.
var (
	// ErrPrimaryConflict is returned when a write would leave a volunteer with two active primary roles.
	ErrPrimaryConflict = errors.New("volunteer already has an active primary role")
	// ErrDuplicateAssignment is returned for a second active (volunteer, role, scope) assignment.
	ErrDuplicateAssignment = errors.New("role assignment already exists for this volunteer, role, and scope")
	// ErrDuplicateName is returned when a unique name constraint is violated.
	ErrDuplicateName = errors.New("name already exists")
	// ErrDuplicateEmail is returned when a user email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Constraint names from the migrations.
const (
	constraintOnePrimary       = "role_assignments_one_primary"
	constraintActiveAssignment = "role_assignments_active_unique"
)

// filter accumulates WHERE clauses with positional placeholders.
type filter struct {
	clauses []string
	args    []interface{}
}

// add appends a clause. Each "?" in clause is replaced with the next $n placeholder.
func (f *filter) add(clause string, args ...interface{}) {
	for _, a := range args {
		f.args = append(f.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(f.args)), 1)
	}
	f.clauses = append(f.clauses, clause)
}

// where renders the accumulated clauses, always starting with WHERE 1=1.
func (f *filter) where() string {
	var b strings.Builder
	b.WriteString(" WHERE 1=1")
	for _, c := range f.clauses {
		b.WriteString(" AND ")
		b.WriteString(c)
	}
	return b.String()
}

// page appends LIMIT/OFFSET placeholders and returns the suffix plus the full argument list.
func (f *filter) page(limit, offset int) (string, []interface{}) {
	n := len(f.args)
	args := append(append([]interface{}{}, f.args...), limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2), args
}

func isUnique(err error, constraint string) bool {
	return err != nil && pgdb.IsUniqueViolation(err, constraint)
}

// like wraps a search term for ILIKE.
func like(s string) string {
	return "%" + s + "%"
}
