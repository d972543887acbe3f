package sqlval

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrBinding is returned when parameters do not match a statement's
// placeholders.
var ErrBinding = errors.New("sqlval: parameter binding mismatch")

// Shape describes the placeholders declared by a statement.
type Shape struct {
	// Positional is the highest positional index (? and ?NNN), which is the
	// number of positional arguments SQLite expects.
	Positional int

	// Named holds :name, @name and $name placeholders without the prefix.
	Named map[string]struct{}

	// Statements counts the semicolon-separated statements in the text.
	// Trigger bodies inflate the count; callers only use it to route text
	// with more than one statement away from the prepared-statement cache.
	Statements int
}

// Placeholders scans sql and returns its placeholder shape. String literals,
// quoted identifiers and comments are skipped. The scanner does not validate
// the statement; malformed SQL is left for the engine to reject.
func Placeholders(sql string) Shape {
	shape := Shape{Named: make(map[string]struct{})}
	next := 1
	content := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch c {
		case ';':
			if content {
				shape.Statements++
			}
			content = false
			continue
		case ' ', '\t', '\n', '\r', '\f':
			continue
		case '-', '/':
		default:
			content = true
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
		case c == '[':
			if end := strings.IndexByte(sql[i+1:], ']'); end >= 0 {
				i += end + 1
			} else {
				i = len(sql)
			}
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			if end := strings.IndexByte(sql[i:], '\n'); end >= 0 {
				i += end
			} else {
				i = len(sql)
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			if end := strings.Index(sql[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(sql)
			}
		case c == '?':
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			if j > i+1 {
				n, err := strconv.Atoi(sql[i+1 : j])
				if err == nil && n > 0 {
					if n > shape.Positional {
						shape.Positional = n
					}
					if n >= next {
						next = n + 1
					}
				}
			} else {
				if next > shape.Positional {
					shape.Positional = next
				}
				next++
			}
			i = j - 1
		case c == ':' || c == '@' || c == '$':
			j := i + 1
			for j < len(sql) && isIdentChar(sql[j]) {
				j++
			}
			if j > i+1 {
				shape.Named[sql[i+1:j]] = struct{}{}
				i = j - 1
			}
		case isIdentChar(c):
			// Bare identifiers and numbers may contain '$' (a$b), which is
			// not a placeholder.
			for i+1 < len(sql) && isIdentChar(sql[i+1]) {
				i++
			}
		case c == '-' || c == '/':
			content = true
		}
	}
	if content {
		shape.Statements++
	}
	return shape
}

// Check verifies that params satisfy the shape. Mixing positional and named
// parameters in one statement is rejected.
func (s Shape) Check(params Params) error {
	positional := params.Positional()
	names := params.Names()

	if positional > 0 && len(names) > 0 {
		return fmt.Errorf("%w: cannot mix positional and named parameters", ErrBinding)
	}
	if len(s.Named) > 0 && s.Positional > 0 {
		return fmt.Errorf("%w: statement mixes positional and named placeholders", ErrBinding)
	}

	if len(s.Named) == 0 {
		if len(names) > 0 {
			return fmt.Errorf("%w: statement has no named placeholders, got %s", ErrBinding, joinNames(names))
		}
		if positional != s.Positional {
			return fmt.Errorf("%w: statement expects %d parameters, got %d", ErrBinding, s.Positional, positional)
		}
		return nil
	}

	if positional > 0 {
		return fmt.Errorf("%w: statement expects named parameters %s, got %d positional",
			ErrBinding, joinNames(s.Named), positional)
	}
	var missing, extra []string
	for name := range s.Named {
		if _, ok := names[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range names {
		if _, ok := s.Named[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return fmt.Errorf("%w: missing %v, unexpected %v", ErrBinding, missing, extra)
	}
	return nil
}

func skipQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		// A doubled quote is an escaped quote inside the literal.
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(sql)
}

func joinNames(set map[string]struct{}) string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return "[" + strings.Join(names, " ") + "]"
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}
