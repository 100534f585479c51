// Package sqlguard validates planner SQL before it touches the dataset.
// Three stages: a lexical guard (keyword blocklist, single statement, SELECT
// prefix), a parse-tree guard (top-level SELECT, no mutation nodes), and a
// reference check (tables and columns restricted to the active dataset).
// The parse-based stages run the statement through the Vitess SQL parser
// after rewriting SQLite-style double-quoted identifiers to backticks; when
// the parser cannot handle a statement the guard falls back to the lexical
// checks plus a FROM/JOIN regex, never to silent acceptance of mutations.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"vitess.io/vitess/go/vt/sqlparser"

	"dataghost/internal/types"
)

// forbiddenKeywords is a substring blocklist over the upper-cased SQL.
// Dataset identifiers are slugified to lower-case, so a column name can
// never collide with these tokens.
var forbiddenKeywords = []string{
	"DROP", "DELETE", "UPDATE", "ALTER", "PRAGMA", "ATTACH",
	"DETACH", "VACUUM", "TRUNCATE", "REPLACE", "CREATE", "INSERT",
}

var (
	parserOnce      sync.Once
	globalParser    *sqlparser.Parser
	globalParserErr error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		globalParser, globalParserErr = sqlparser.New(sqlparser.Options{})
	})
	return globalParser, globalParserErr
}

func reject(format string, args ...any) error {
	return &types.ValidationRejectedError{Reason: fmt.Sprintf(format, args...)}
}

// CheckSafety enforces the lexical and parse-tree stages. It accepts exactly
// one read-only SELECT (or CTE-wrapped SELECT) statement.
func CheckSafety(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return reject("Empty SQL is not allowed")
	}

	// A single trailing semicolon is tolerated; anything else means multiple
	// statements.
	trimmed = strings.TrimSuffix(trimmed, ";")
	if strings.Contains(trimmed, ";") {
		return reject("Multiple SQL statements are not allowed")
	}

	upper := strings.ToUpper(trimmed)
	for _, kw := range forbiddenKeywords {
		if strings.Contains(upper, kw) {
			return reject("Forbidden SQL keyword detected: %s", kw)
		}
	}
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return reject("Only SELECT queries are allowed")
	}

	stmt, ok := parseStatement(trimmed)
	if !ok {
		// Parser unavailable or dialect mismatch: the lexical stage above is
		// the effective guard, matching the documented fallback.
		return nil
	}
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union:
	default:
		return reject("Only SELECT queries are allowed")
	}

	var walkErr error
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete:
			walkErr = reject("Only read-only SELECT statements are allowed")
			return false, nil
		}
		return true, nil
	}, stmt)
	return walkErr
}

// CheckReferences enforces the reference stage: every table reference must be
// the active table (CTE names aside) and every column reference must be a
// dataset column, a select-list alias introduced by the statement, or the
// wildcard. Applied during planning only.
func CheckReferences(sql, tableName string, columns []string) error {
	trimmed := strings.TrimSuffix(strings.TrimSpace(sql), ";")

	stmt, ok := parseStatement(trimmed)
	if !ok {
		return checkReferencesFallback(trimmed, tableName)
	}

	refs := collectReferences(stmt)

	wantTable := strings.ToLower(tableName)
	for table := range refs.tables {
		if refs.cteNames[table] {
			continue
		}
		if table != wantTable {
			return reject("Query references unexpected table: %s", table)
		}
	}

	allowed := make(map[string]bool, len(columns))
	for _, col := range columns {
		allowed[strings.ToLower(col)] = true
	}
	for column := range refs.columns {
		if allowed[column] || refs.aliases[column] {
			continue
		}
		return reject("Query references unknown column: %s", column)
	}
	return nil
}

// Validate runs the safety and reference stages together; the planner calls
// this on every candidate query.
func Validate(sql, tableName string, columns []string) error {
	if err := CheckSafety(sql); err != nil {
		return err
	}
	return CheckReferences(sql, tableName, columns)
}

// references aggregates what one statement touches. All names lower-cased.
type references struct {
	tables   map[string]bool
	columns  map[string]bool
	aliases  map[string]bool
	cteNames map[string]bool
}

func collectReferences(stmt sqlparser.Statement) *references {
	refs := &references{
		tables:   map[string]bool{},
		columns:  map[string]bool{},
		aliases:  map[string]bool{},
		cteNames: map[string]bool{},
	}

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.CommonTableExpr:
			refs.cteNames[strings.ToLower(n.ID.String())] = true
			for _, col := range n.Columns {
				refs.aliases[strings.ToLower(col.String())] = true
			}
		case *sqlparser.AliasedTableExpr:
			if tn, ok := n.Expr.(sqlparser.TableName); ok {
				name := strings.ToLower(tn.Name.String())
				if !tn.Qualifier.IsEmpty() {
					name = strings.ToLower(tn.Qualifier.String()) + "." + name
				}
				refs.tables[name] = true
			}
			if !n.As.IsEmpty() {
				refs.cteNames[strings.ToLower(n.As.String())] = true
			}
		case *sqlparser.AliasedExpr:
			if !n.As.IsEmpty() {
				refs.aliases[strings.ToLower(n.As.String())] = true
			}
		case *sqlparser.ColName:
			refs.columns[strings.ToLower(n.Name.String())] = true
		}
		return true, nil
	}, stmt)

	return refs
}

// parseStatement normalizes identifier quoting and parses. The second return
// is false when the statement is outside the parser's dialect; callers then
// use the fallback path.
func parseStatement(sql string) (sqlparser.Statement, bool) {
	p, err := getParser()
	if err != nil {
		return nil, false
	}
	stmt, err := p.Parse(normalizeIdentifierQuotes(sql))
	if err != nil {
		return nil, false
	}
	return stmt, true
}

var fromJoinPattern = func(table string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:from|join)\s+"?` + regexp.QuoteMeta(table) + `"?\b`)
}

// checkReferencesFallback requires the active table to appear as a FROM/JOIN
// target somewhere in the statement.
func checkReferencesFallback(sql, tableName string) error {
	if !fromJoinPattern(tableName).MatchString(sql) {
		return reject("Query must reference the active dataset table %q", tableName)
	}
	return nil
}

// normalizeIdentifierQuotes rewrites SQLite double-quoted identifiers to
// MySQL backticks so the parser reads them as identifiers rather than string
// literals. Single-quoted strings and existing backtick identifiers pass
// through untouched.
func normalizeIdentifierQuotes(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	i, n := 0, len(sql)
	for i < n {
		switch sql[i] {
		case '\'':
			i = copyQuoted(&b, sql, i, '\'')
		case '`':
			i = copyQuoted(&b, sql, i, '`')
		case '"':
			i = rewriteDoubleQuoted(&b, sql, i)
		default:
			b.WriteByte(sql[i])
			i++
		}
	}
	return b.String()
}

// copyQuoted copies a quoted region verbatim, honoring doubled-quote escapes.
func copyQuoted(b *strings.Builder, sql string, start int, quote byte) int {
	b.WriteByte(sql[start])
	i := start + 1
	n := len(sql)
	for i < n {
		b.WriteByte(sql[i])
		if sql[i] == quote {
			if i+1 < n && sql[i+1] == quote {
				b.WriteByte(sql[i+1])
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// rewriteDoubleQuoted converts one "ident" region to `ident`. An unterminated
// quote is copied through and left for the parser to complain about.
func rewriteDoubleQuoted(b *strings.Builder, sql string, start int) int {
	i := start + 1
	n := len(sql)
	var ident strings.Builder
	for i < n {
		if sql[i] == '"' {
			if i+1 < n && sql[i+1] == '"' {
				ident.WriteByte('"')
				i += 2
				continue
			}
			b.WriteByte('`')
			b.WriteString(ident.String())
			b.WriteByte('`')
			return i + 1
		}
		ident.WriteByte(sql[i])
		i++
	}
	b.WriteByte(sql[start])
	return start + 1
}
