package schema

import (
	"strings"

	"github.com/sqlitedissect/dissect/dissecterr"
)

// ParseColumns extracts column definitions from a CREATE TABLE
// statement's SQL text. It is a small hand-rolled tokenizer rather
// than a full SQL grammar: it only needs to find the balanced
// top-level parenthesized column list and split it on top-level
// commas, while correctly skipping over quoted identifiers/string
// literals (using any of SQLite's three string-literal flavors: `'`,
// `"`, and `` ` ``) and SQL comments so that commas or parens inside
// them don't confuse the split.
func ParseColumns(createTableSQL string) ([]Column, error) {
	body, err := extractColumnListBody(createTableSQL)
	if err != nil {
		return nil, err
	}

	defs := splitTopLevel(body)
	columns := make([]Column, 0, len(defs))
	for i, def := range defs {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		if isTableConstraint(def) {
			continue
		}
		col, ok := parseColumnDef(def)
		if !ok {
			continue
		}
		_ = i
		columns = append(columns, col)
	}
	return columns, nil
}

// extractColumnListBody strips comments from sql, then returns the
// text between the first top-level '(' and its matching ')'.
func extractColumnListBody(sql string) (string, error) {
	clean, err := stripComments(sql)
	if err != nil {
		return "", err
	}

	depth := 0
	start := -1
	for i := 0; i < len(clean); i++ {
		c := clean[i]
		if inQuote(clean, i) != 0 {
			continue
		}
		switch c {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth == 0 && start != -1 {
				return clean[start:i], nil
			}
		}
	}

	return "", dissecterr.New(dissecterr.KindMasterSchemaParsing, "extract_column_list", "no balanced column list found").
		WithContext(map[string]any{"sql_len": len(sql)})
}

// stripComments removes `-- line` comments and `/* block */` comments
// (nestable one level deep) while leaving everything
// inside string/identifier literals untouched. An unterminated string
// literal or block comment is a malformed CREATE TABLE statement, not
// something to silently truncate, so it's reported as
// dissecterr.KindMasterSchemaParsing.
func stripComments(sql string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(sql) {
		if q := quoteCharAt(sql, i); q != 0 {
			end, ok := findQuoteEnd(sql, i, q)
			if !ok {
				return "", dissecterr.New(dissecterr.KindMasterSchemaParsing, "strip_comments", "unterminated string literal").
					WithContext(map[string]any{"start": i})
			}
			out.WriteString(sql[i:end])
			i = end
			continue
		}
		if i+1 < len(sql) && sql[i] == '-' && sql[i+1] == '-' {
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			continue
		}
		if i+1 < len(sql) && sql[i] == '/' && sql[i+1] == '*' {
			end := strings.Index(sql[i+2:], "*/")
			if end == -1 {
				return "", dissecterr.New(dissecterr.KindMasterSchemaParsing, "strip_comments", "unterminated block comment").
					WithContext(map[string]any{"start": i})
			}
			// One level of nesting: a "/*" opened inside this comment is
			// closed by the first "*/", and the next "*/" closes this one.
			if strings.Contains(sql[i+2:i+2+end], "/*") {
				next := strings.Index(sql[i+2+end+2:], "*/")
				if next == -1 {
					return "", dissecterr.New(dissecterr.KindMasterSchemaParsing, "strip_comments", "unterminated block comment").
						WithContext(map[string]any{"start": i})
				}
				end += 2 + next
			}
			i = i + 2 + end + 2
			continue
		}
		out.WriteByte(sql[i])
		i++
	}
	return out.String(), nil
}

func quoteCharAt(s string, i int) byte {
	switch s[i] {
	case '\'', '"', '`':
		return s[i]
	default:
		return 0
	}
}

// findQuoteEnd returns the index just past the closing quote matching
// the opening quote q at position start, honoring SQLite's doubled-
// quote escape (e.g. '' inside a '...' literal). ok is false when the
// literal is never closed.
func findQuoteEnd(s string, start int, q byte) (end int, ok bool) {
	i := start + 1
	for i < len(s) {
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return len(s), false
}

// inQuote reports the quote character active at position i within s,
// or 0 if i is not inside a string/identifier literal. It is used by
// extractColumnListBody, which runs after stripComments so only
// literal quoting remains to track.
func inQuote(s string, i int) byte {
	var active byte
	for j := 0; j < i; j++ {
		if active == 0 {
			if q := quoteCharAt(s, j); q != 0 {
				active = q
			}
			continue
		}
		if s[j] == active {
			if j+1 < len(s) && s[j+1] == active {
				j++
				continue
			}
			active = 0
		}
	}
	return active
}

// splitTopLevel splits s on commas that are not inside nested parens
// or quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		if inQuote(s, i) != 0 {
			continue
		}
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}

var tableConstraintKeywords = []string{
	"PRIMARY KEY", "UNIQUE", "CHECK", "FOREIGN KEY", "CONSTRAINT",
}

func isTableConstraint(def string) bool {
	upper := strings.ToUpper(strings.TrimSpace(def))
	for _, kw := range tableConstraintKeywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// parseColumnDef splits a single column definition into its name,
// declared type, and the handful of per-column flags the recovery
// engine cares about.
func parseColumnDef(def string) (Column, bool) {
	fields := tokenizeWords(def)
	if len(fields) == 0 {
		return Column{}, false
	}

	name := unquoteIdentifier(fields[0])
	rest := fields[1:]

	var typeParts []string
	i := 0
	for i < len(rest) && !isColumnConstraintKeyword(rest[i]) {
		typeParts = append(typeParts, rest[i])
		i++
	}
	declared := strings.Join(typeParts, " ")

	col := Column{
		Name:     name,
		Type:     declared,
		Affinity: AffinityOf(declared),
	}

	upper := strings.ToUpper(strings.Join(rest, " "))
	col.NotNull = strings.Contains(upper, "NOT NULL")
	col.PrimaryKey = strings.Contains(upper, "PRIMARY KEY")
	col.Autoincrement = strings.Contains(upper, "AUTOINCREMENT")

	return col, true
}

var columnConstraintKeywords = []string{
	"PRIMARY", "NOT", "NULL", "UNIQUE", "CHECK", "DEFAULT",
	"COLLATE", "REFERENCES", "GENERATED", "AS", "CONSTRAINT",
}

func isColumnConstraintKeyword(word string) bool {
	upper := strings.ToUpper(word)
	for _, kw := range columnConstraintKeywords {
		if upper == kw {
			return true
		}
	}
	return false
}

// tokenizeWords splits on whitespace, keeping quoted identifiers and
// parenthesized type modifiers (e.g. "VARCHAR(32)") as single tokens.
func tokenizeWords(s string) []string {
	var words []string
	var cur strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote(s, i) != 0 {
			cur.WriteByte(c)
			continue
		}
		switch {
		case c == '(':
			depth++
			cur.WriteByte(c)
		case c == ')':
			depth--
			cur.WriteByte(c)
		case (c == ' ' || c == '\t' || c == '\n' || c == '\r') && depth == 0:
			if cur.Len() > 0 {
				words = append(words, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}

func unquoteIdentifier(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') ||
			(s[0] == '`' && s[len(s)-1] == '`') ||
			(s[0] == '[' && s[len(s)-1] == ']') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
