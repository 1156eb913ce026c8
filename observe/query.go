package observe

import (
	"strings"
)

// quoteChar is the identifier quoting character used by SingleStore.
const quoteChar = '`'

// Query describes one OBSERVE statement. The zero value observes all columns
// of all tables with no format, sink, resume position, or predicate. Query
// rendering is pure text assembly and never touches the network.
type Query struct {
	Columns   []ColumnID // Columns to observe. Empty means all columns.
	Tables    []TableID  // Tables to observe. Empty means all tables.
	Format    OutputFormat
	Sink      string // Raw INTO clause body, e.g. "FS '/data/out'".
	Resume    string // Raw BEGINNING AT clause body, from OffsetContext.ResumeDirective.
	Predicate string // Raw WHERE clause body filtering on record metadata or content.
}

// OutputFormat selects the wire encoding of observed rows.
type OutputFormat string

const (
	FormatSQL  OutputFormat = "SQL"
	FormatJSON OutputFormat = "JSON"
)

// String renders the query text. Identical inputs always produce identical
// text, and omitted optional clauses are entirely absent.
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("OBSERVE ")
	if len(q.Columns) == 0 {
		b.WriteString("*")
	} else {
		for i, col := range q.Columns {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(quotedColumnID(col))
		}
	}
	b.WriteString(" FROM ")
	if len(q.Tables) == 0 {
		b.WriteString("*")
	} else {
		for i, table := range q.Tables {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(quotedTableID(table))
		}
	}
	if q.Format != "" {
		b.WriteString(" AS ")
		b.WriteString(string(q.Format))
	}
	if q.Sink != "" {
		b.WriteString(" INTO ")
		b.WriteString(q.Sink)
	}
	if q.Resume != "" {
		b.WriteString(" BEGINNING AT ")
		b.WriteString(q.Resume)
	}
	if q.Predicate != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Predicate)
	}
	return b.String()
}

// quoteIdentifier backtick-quotes an identifier, doubling any embedded
// backticks. An identifier whose first or last character is already a
// backtick is passed through unchanged.
func quoteIdentifier(name string) string {
	if name == "" {
		return string(quoteChar) + string(quoteChar)
	}
	if name[0] == quoteChar || name[len(name)-1] == quoteChar {
		return name
	}
	var escaped = strings.ReplaceAll(name, string(quoteChar), string(quoteChar)+string(quoteChar))
	return string(quoteChar) + escaped + string(quoteChar)
}

func quotedTableID(t TableID) string {
	if t.Database == "" {
		return quoteIdentifier(t.Name)
	}
	return quoteIdentifier(t.Database) + "." + quoteIdentifier(t.Name)
}

func quotedColumnID(c ColumnID) string {
	return quotedTableID(c.Table) + "." + quoteIdentifier(c.Column)
}
