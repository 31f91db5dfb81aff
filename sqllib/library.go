// Package sqllib loads named SQL statements from library files.
//
// Two formats are understood. The sqllib text format pairs name and
// statement blocks:
//
//	// jobs
//	<SQL-NAME>
//	  pending_jobs
//	</SQL-NAME>
//	<SQL>
//	  SELECT id FROM jobs   -- oldest first
//	  WHERE done = false ORDER BY {0}
//	</SQL>
//
// and the XML format holds one sql element per statement:
//
//	<?xml version="1.0"?>
//	<sqllib>
//	  <sql name="pending_jobs">SELECT id FROM jobs WHERE done = false</sql>
//	</sqllib>
//
// Comments are stripped and whitespace is collapsed, so every statement is
// a single line ending in one space. Optimizer hints such as /*+ INDEX(j) */
// are kept.
package sqllib

import (
	"errors"
	"fmt"
	"slices"
)

// ErrStatementNotFound is returned for names a library does not hold.
var ErrStatementNotFound = errors.New("cannot find specified statement")

// Statement is a named SQL statement.
type Statement struct {
	Name string
	SQL  string
}

// Format returns the statement with positional placeholders replaced.
func (s Statement) Format(args ...any) string {
	return Format(s.SQL, args...)
}

// Library is an immutable set of statements.
type Library struct {
	name       string
	statements map[string]Statement
}

func newLibrary(name string, statements []Statement) *Library {
	l := &Library{name: name, statements: make(map[string]Statement, len(statements))}
	for _, s := range statements {
		l.statements[s.Name] = s
	}
	return l
}

// Name returns the location or name the library was loaded from.
func (l *Library) Name() string {
	return l.name
}

// Names returns the sorted statement names.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.statements))
	for name := range l.statements {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (l *Library) Statement(name string) (Statement, error) {
	s, ok := l.statements[name]
	if !ok {
		return Statement{}, fmt.Errorf("%w for key %s", ErrStatementNotFound, name)
	}
	return s, nil
}

// Query returns the SQL of name with positional placeholders replaced by
// args.
func (l *Library) Query(name string, args ...any) (string, error) {
	s, err := l.Statement(name)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return s.SQL, nil
	}
	return s.Format(args...), nil
}

// Template returns the SQL of name with {key} placeholders replaced.
func (l *Library) Template(name string, values map[string]any) (string, error) {
	s, err := l.Statement(name)
	if err != nil {
		return "", err
	}
	return Template(s.SQL, values), nil
}
