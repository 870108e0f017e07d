package structure

import (
	"fmt"
	"strings"

	"dbferry/internal/selection"
)

// constraintKeywords mark a CREATE TABLE body segment as a table constraint
// rather than a column definition.
var constraintKeywords = []string{
	"CONSTRAINT", "PRIMARY KEY", "FOREIGN KEY", "UNIQUE", "CHECK",
	"INDEX", "KEY", "EXCLUDE",
}

// TrimCreateTable rewrites a CREATE TABLE statement so that only the given
// columns remain. Constraint clauses referencing a dropped column are
// removed, not fixed. The statement body is parsed into segments at
// top-level commas (paren depth aware, so DECIMAL(10,2) survives), each
// segment is classified as a column definition or a constraint, filtered,
// and the statement is re-rendered.
func TrimCreateTable(ddl string, keep []string) (string, error) {
	open, close, err := findBody(ddl)
	if err != nil {
		return "", err
	}

	head := ddl[:open]
	body := ddl[open+1 : close]
	tail := ddl[close+1:]

	segments := splitTopLevel(body)

	// First pass: collect every declared column name so CHECK expressions
	// can be matched against real columns instead of function names.
	var declared []string
	for _, seg := range segments {
		if name, ok := columnName(seg); ok {
			declared = append(declared, name)
		}
	}

	var kept []string
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg)
		if trimmed == "" {
			continue
		}

		if name, ok := columnName(trimmed); ok {
			if selection.ContainsFold(keep, name) {
				kept = append(kept, trimmed)
			}
			continue
		}

		// Constraint clause: keep only if every referenced column survives.
		refs := constraintColumns(trimmed, declared)
		drop := false
		for _, ref := range refs {
			if !selection.ContainsFold(keep, ref) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, trimmed)
		}
	}

	if len(kept) == 0 {
		return "", fmt.Errorf("no columns left after selection")
	}

	return head + "(\n    " + strings.Join(kept, ",\n    ") + "\n)" + tail, nil
}

// findBody locates the outermost paren group of a CREATE statement.
func findBody(ddl string) (open, close int, err error) {
	open = strings.IndexByte(ddl, '(')
	if open < 0 {
		return 0, 0, fmt.Errorf("no column list in DDL")
	}
	depth := 0
	for i := open; i < len(ddl); i++ {
		switch ddl[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return open, i, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("unbalanced parentheses in DDL")
}

// splitTopLevel splits a statement body at commas outside any parentheses
// and outside quoted strings.
func splitTopLevel(body string) []string {
	var segments []string
	depth := 0
	start := 0
	var quote byte

	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				segments = append(segments, body[start:i])
				start = i + 1
			}
		}
	}
	segments = append(segments, body[start:])
	return segments
}

// columnName returns the declared column name when the segment is a column
// definition. Constraint segments return ok=false.
func columnName(segment string) (string, bool) {
	trimmed := strings.TrimSpace(segment)
	upper := strings.ToUpper(trimmed)
	for _, kw := range constraintKeywords {
		if strings.HasPrefix(upper, kw) {
			// Guard against a column actually named like a keyword: a bare
			// keyword prefix must be followed by a space, paren, or end.
			rest := upper[len(kw):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '(' || rest[0] == '\n' {
				return "", false
			}
		}
	}

	tok := firstToken(trimmed)
	if tok == "" {
		return "", false
	}
	return unquoteIdent(tok), true
}

// firstToken returns the first whitespace-delimited token, respecting
// quoted identifiers that may contain spaces.
func firstToken(s string) string {
	if s == "" {
		return ""
	}
	switch s[0] {
	case '"', '`':
		if end := strings.IndexByte(s[1:], s[0]); end >= 0 {
			return s[:end+2]
		}
	case '[':
		if end := strings.IndexByte(s, ']'); end >= 0 {
			return s[:end+1]
		}
	}
	if i := strings.IndexAny(s, " \t\n("); i >= 0 {
		return s[:i]
	}
	return s
}

// unquoteIdent strips "", ``, or [] quoting from an identifier.
func unquoteIdent(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
		case s[0] == '`' && s[len(s)-1] == '`':
			return s[1 : len(s)-1]
		case s[0] == '[' && s[len(s)-1] == ']':
			return strings.ReplaceAll(s[1:len(s)-1], "]]", "]")
		}
	}
	return s
}

// constraintColumns extracts the columns a constraint references. For key
// constraints that is the first paren group's identifier list; for CHECK
// expressions every identifier inside the parens that matches a declared
// column counts as referenced (REFERENCES targets belong to another table
// and are ignored by taking only the first group).
func constraintColumns(segment string, declared []string) []string {
	open := strings.IndexByte(segment, '(')
	if open < 0 {
		return nil
	}
	depth := 0
	end := -1
	for i := open; i < len(segment); i++ {
		switch segment[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil
	}

	inner := segment[open+1 : end]
	var cols []string
	for _, tok := range tokenizeIdents(inner) {
		if selection.ContainsFold(declared, tok) {
			cols = append(cols, tok)
		}
	}
	return cols
}

// tokenizeIdents pulls identifier-shaped tokens out of an expression,
// skipping string literals and numbers.
func tokenizeIdents(s string) []string {
	var out []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'':
			// Skip string literal.
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				j++
			}
			i = j + 1
		case c == '"' || c == '`':
			j := i + 1
			for j < len(s) && s[j] != c {
				j++
			}
			if j > i+1 {
				out = append(out, s[i+1:j])
			}
			i = j + 1
		case c == '[':
			j := strings.IndexByte(s[i:], ']')
			if j > 1 {
				out = append(out, s[i+1:i+j])
				i += j + 1
			} else {
				i++
			}
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			out = append(out, s[i:j])
			i = j
		default:
			i++
		}
	}
	return out
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}
