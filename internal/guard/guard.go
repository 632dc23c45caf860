// Package guard validates model-generated SQL before it reaches a database.
//
// The checks are string based: a leading read-only keyword, a forbidden
// keyword scan and a table allowlist. They filter model hallucinations. They
// are not a boundary against attacker-controlled SQL text.
package guard

import (
	"regexp"
	"sort"
	"strings"
)

// ForbiddenKeywords are rejected anywhere in the statement, case-insensitively.
var ForbiddenKeywords = []string{"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE", "EXEC", "MERGE", "GRANT", "REVOKE"}

var readOnlyPrefix = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)

type UnsafeQueryError struct {
	Reason string
}

func (e *UnsafeQueryError) Error() string {
	return "unsafe query: " + e.Reason
}

// Query is SQL that passed Validate. The zero value is not a valid query.
type Query struct {
	sql    string
	tables []string
}

func (q Query) SQL() string {
	return q.sql
}

// Tables returns the allowlisted tables the statement references.
func (q Query) Tables() []string {
	return append([]string(nil), q.tables...)
}

// Validate checks sql against allowlist after rewriting singular aliases to
// their table names. Validating the SQL of a returned Query yields the same
// Query.
func Validate(sql string, allowlist []string, aliases map[string]string) (Query, error) {
	if strings.TrimSpace(sql) == "" {
		return Query{}, reject("Generated SQL is empty.")
	}
	sql = strings.TrimSpace(sql)
	sql = rewriteAliases(sql, aliases)

	if !readOnlyPrefix.MatchString(sql) {
		return Query{}, reject("Only SELECT queries are allowed.")
	}

	sql = strings.TrimSpace(strings.TrimRight(sql, "; \t\r\n"))
	if strings.Contains(sql, ";") {
		return Query{}, reject("Multiple statements are not allowed.")
	}

	upper := strings.ToUpper(sql)
	for _, keyword := range ForbiddenKeywords {
		if strings.Contains(upper, keyword) {
			return Query{}, reject("Query contains forbidden keyword: " + keyword + ".")
		}
	}

	tables := referencedTables(sql, allowlist)
	if len(tables) == 0 {
		return Query{}, reject("Query does not reference any allowed table (" + strings.Join(allowlist, ", ") + ").")
	}

	return Query{sql: sql, tables: tables}, nil
}

func reject(reason string) error {
	return &UnsafeQueryError{Reason: reason}
}

var keywordFollower = regexp.MustCompile(`(?i)^\s+BY\b`)

// rewriteAliases replaces whole-word alias occurrences, ignoring case. Words
// followed by BY (ORDER BY, GROUP BY) and text inside string literals are
// left alone. Longer aliases go first so overlapping names rewrite
// deterministically.
func rewriteAliases(sql string, aliases map[string]string) string {
	if len(aliases) == 0 {
		return sql
	}
	names := make([]string, 0, len(aliases))
	for alias, table := range aliases {
		if alias == "" || strings.EqualFold(alias, table) {
			continue
		}
		names = append(names, alias)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	var out strings.Builder
	for _, seg := range splitStringLiterals(sql) {
		if seg.literal {
			out.WriteString(seg.text)
			continue
		}
		text := seg.text
		for _, alias := range names {
			text = replaceWord(text, alias, aliases[alias])
		}
		out.WriteString(text)
	}
	return out.String()
}

func replaceWord(text, word, replacement string) string {
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	matches := pattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var out strings.Builder
	last := 0
	for _, m := range matches {
		if keywordFollower.MatchString(text[m[1]:]) {
			continue
		}
		out.WriteString(text[last:m[0]])
		out.WriteString(replacement)
		last = m[1]
	}
	out.WriteString(text[last:])
	return out.String()
}

type segment struct {
	text    string
	literal bool
}

// splitStringLiterals cuts sql into runs of plain text and single-quoted
// literals. A doubled quote inside a literal is an escaped quote; an
// unterminated literal runs to the end.
func splitStringLiterals(sql string) []segment {
	var segments []segment
	start := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] != '\'' {
			continue
		}
		if i > start {
			segments = append(segments, segment{text: sql[start:i]})
		}
		j := i + 1
		for j < len(sql) {
			if sql[j] == '\'' {
				if j+1 < len(sql) && sql[j+1] == '\'' {
					j += 2
					continue
				}
				break
			}
			j++
		}
		end := min(j+1, len(sql))
		segments = append(segments, segment{text: sql[i:end], literal: true})
		start = end
		i = end - 1
	}
	if start < len(sql) {
		segments = append(segments, segment{text: sql[start:]})
	}
	return segments
}

func referencedTables(sql string, allowlist []string) []string {
	var tables []string
	for _, table := range allowlist {
		if table == "" {
			continue
		}
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(table) + `\b`)
		if pattern.MatchString(sql) {
			tables = append(tables, table)
		}
	}
	return tables
}
