package schema

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// CrossCheck runs an opportunistic secondary parse of a CREATE TABLE
// statement through sqlparser (a MySQL-grammar parser) and reports
// whether it agrees with the tokenizer's column count. sqlparser
// doesn't understand SQLite syntax, so this is best-effort: it only
// flags a statement when sqlparser parses cleanly and disagrees, never
// on a parse failure (SQLite accepts syntax MySQL's grammar doesn't,
// e.g. "AUTOINCREMENT").
func CrossCheck(createTableSQL string, tokenized []Column) (agree bool, checked bool) {
	normalized := normalizeForSQLParser(createTableSQL)
	stmt, err := sqlparser.Parse(normalized)
	if err != nil {
		return false, false
	}

	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok || ddl.Action != "create" || ddl.TableSpec == nil {
		return false, false
	}

	return len(ddl.TableSpec.Columns) == len(tokenized), true
}

// normalizeForSQLParser rewrites the handful of SQLite-isms that would
// otherwise make sqlparser reject a statement outright.
func normalizeForSQLParser(sql string) string {
	normalized := strings.ReplaceAll(sql, "primary key autoincrement", "AUTO_INCREMENT PRIMARY KEY")
	normalized = strings.ReplaceAll(normalized, "PRIMARY KEY AUTOINCREMENT", "AUTO_INCREMENT PRIMARY KEY")
	normalized = strings.ReplaceAll(normalized, "WITHOUT ROWID", "")
	normalized = strings.ReplaceAll(normalized, "without rowid", "")
	return normalized
}
