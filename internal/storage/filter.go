package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/message"
)

const messageColumns = `message_id, sender, recipient, ts, text, received_at, payload_fingerprint`

// dialect captures the SQL differences between the backends.
type dialect struct {
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// timeArg converts an instant to the backend's bind value for ts columns.
	timeArg func(time.Time) any
	// contains is a case-sensitive substring predicate on text with one %s
	// for the needle placeholder.
	contains string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return formatStoredTime(t) },
	contains:    "instr(text, %s) > 0",
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	timeArg:     func(t time.Time) any { return formatStoredTime(t) },
	contains:    "strpos(text, %s) > 0",
}

// whereClause builds the WHERE fragment (with leading space) and its bind args.
// Rows with NULL text never match a text filter.
func whereClause(f message.Filter, d dialect) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(format string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(format, d.placeholder(len(args))))
	}

	if f.Sender != "" {
		add("sender = %s", f.Sender)
	}
	if f.FromTS != nil {
		add("ts >= %s", d.timeArg(*f.FromTS))
	}
	if f.ToTS != nil {
		add("ts <= %s", d.timeArg(*f.ToTS))
	}
	if f.TextContains != "" {
		add(d.contains, f.TextContains)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// pageQuery returns the count and select statements for one page.
func pageQuery(f message.Filter, limit, offset int, d dialect) (countSQL, selectSQL string, countArgs, selectArgs []any) {
	where, args := whereClause(f, d)
	countSQL = "SELECT COUNT(*) FROM messages" + where
	n := len(args)
	selectSQL = fmt.Sprintf(
		"SELECT %s FROM messages%s ORDER BY received_at ASC, seq ASC LIMIT %s OFFSET %s",
		messageColumns, where, d.placeholder(n+1), d.placeholder(n+2),
	)
	selectArgs = append(append([]any(nil), args...), limit, offset)
	return countSQL, selectSQL, args, selectArgs
}
