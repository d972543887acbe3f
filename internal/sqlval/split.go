package sqlval

import (
	"fmt"
	"strings"
)

// Split cuts sql into its statements, without the terminating semicolons.
// Semicolons inside literals, quoted identifiers, comments and CREATE
// TRIGGER bodies do not split; a trigger ends at "END;", as with
// sqlite3_complete. Pieces holding only whitespace or comments are dropped.
func Split(sql string) []string {
	var out []string
	start := 0
	content := false
	trigger := false
	var lead []string
	last := ""

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == ';':
			if trigger && last != "END" {
				last = ""
				continue
			}
			if content {
				out = append(out, strings.TrimSpace(sql[start:i]))
			}
			start, content, trigger, lead, last = i+1, false, false, lead[:0], ""
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
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
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
			content, last = true, ""
		case c == '[':
			if end := strings.IndexByte(sql[i+1:], ']'); end >= 0 {
				i += end + 1
			} else {
				i = len(sql)
			}
			content, last = true, ""
		case isIdentChar(c):
			j := i + 1
			for j < len(sql) && isIdentChar(sql[j]) {
				j++
			}
			word := strings.ToUpper(sql[i:j])
			if len(lead) < 3 {
				lead = append(lead, word)
				trigger = createsTrigger(lead)
			}
			content, last = true, word
			i = j - 1
		default:
			content, last = true, ""
		}
	}
	if content {
		out = append(out, strings.TrimSpace(sql[start:]))
	}
	return out
}

func createsTrigger(lead []string) bool {
	if len(lead) < 2 || lead[0] != "CREATE" {
		return false
	}
	if lead[1] == "TRIGGER" {
		return true
	}
	return len(lead) > 2 && (lead[1] == "TEMP" || lead[1] == "TEMPORARY") && lead[2] == "TRIGGER"
}

// Keywords returns up to n leading keywords of sql in upper case, skipping
// whitespace and comments. It stops at the first token that is not a bare
// word.
func Keywords(sql string, n int) []string {
	var out []string
	for i := 0; i < len(sql) && len(out) < n; i++ {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return out
			}
			i += end
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return out
			}
			i += end + 3
		case isIdentChar(c) && !isDigit(c):
			j := i + 1
			for j < len(sql) && isIdentChar(sql[j]) {
				j++
			}
			out = append(out, strings.ToUpper(sql[i:j]))
			i = j - 1
		default:
			return out
		}
	}
	return out
}

// Distribute assigns params to statements the way a multi-statement
// execution binds them: each statement takes the next Positional
// positional parameters, and the named parameters it declares.
func Distribute(statements []string, params Params) ([]Params, error) {
	out := make([]Params, len(statements))
	if len(params) == 0 {
		return out, nil
	}

	next := 0
	for i, stmt := range statements {
		shape := Placeholders(stmt)
		for _, p := range params {
			if p.Name == "" {
				continue
			}
			if _, ok := shape.Named[trimPrefix(p.Name)]; ok {
				out[i] = append(out[i], p)
			}
		}
		if shape.Positional == 0 {
			continue
		}
		var taken Params
		for next < len(params) && len(taken) < shape.Positional {
			if params[next].Name == "" {
				taken = append(taken, params[next])
			}
			next++
		}
		if len(taken) < shape.Positional {
			return nil, fmt.Errorf("%w: statement %d expects %d parameters, got %d",
				ErrBinding, i+1, shape.Positional, len(taken))
		}
		out[i] = append(out[i], taken...)
	}
	if left := params[next:].Positional(); left > 0 {
		return nil, fmt.Errorf("%w: %d positional parameters left unbound", ErrBinding, left)
	}
	return out, nil
}
