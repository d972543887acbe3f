package extension

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// JSON helpers operate on TEXT or BLOB columns holding a JSON document.
//
// Paths are either gjson paths ("a.b.0") or the JSONPath subset used by the
// engine's own json functions ("$.a.b[0]", "$['odd.key']"). The update
// helper is json_put rather than json_set so the engine's built-in json_set
// stays reachable.

var errRootPath = errors.New("path must name a member, not the document root")

// TranslatePath converts a "$"-rooted JSONPath into gjson syntax. Paths not
// starting with '$' are returned unchanged. The root path "$" translates to
// "@this".
func TranslatePath(path string) (string, error) {
	if !strings.HasPrefix(path, "$") {
		return path, nil
	}
	rest := path[1:]
	if rest == "" {
		return "@this", nil
	}

	var parts []string
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return "", fmt.Errorf("invalid path %q: empty member name", path)
			}
			parts = append(parts, gjson.Escape(rest[:end]))
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return "", fmt.Errorf("invalid path %q: unterminated '['", path)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			if len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0] {
				parts = append(parts, gjson.Escape(inner[1:len(inner)-1]))
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil || n < 0 {
				return "", fmt.Errorf("invalid path %q: bad array index %q", path, inner)
			}
			parts = append(parts, strconv.Itoa(n))
		default:
			return "", fmt.Errorf("invalid path %q: unexpected %q", path, rest[0])
		}
	}
	return strings.Join(parts, "."), nil
}

// jsonArgs extracts the document and translated path, validating the
// document. ok is false when either argument is NULL.
func jsonArgs(docArg, pathArg sqlval.Value) (doc, path string, ok bool, err error) {
	doc, ok = docArg.Text()
	if !ok {
		return "", "", false, nil
	}
	rawPath, ok := pathArg.Text()
	if !ok {
		return "", "", false, nil
	}
	if !gjson.Valid(doc) {
		return "", "", false, errors.New("malformed JSON")
	}
	path, err = TranslatePath(rawPath)
	if err != nil {
		return "", "", false, err
	}
	return doc, path, true, nil
}

// resultValue maps a gjson result onto the engine's storage classes the way
// json_extract does: strings as TEXT, integers as INTEGER, other numbers as
// REAL, booleans as 0/1, objects and arrays as JSON TEXT.
func resultValue(r gjson.Result) sqlval.Value {
	switch r.Type {
	case gjson.String:
		return sqlval.Text(r.Str)
	case gjson.Number:
		if !strings.ContainsAny(r.Raw, ".eE") {
			if n, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
				return sqlval.Integer(n)
			}
		}
		return sqlval.Float(r.Num)
	case gjson.True:
		return sqlval.Integer(1)
	case gjson.False:
		return sqlval.Integer(0)
	case gjson.JSON:
		return sqlval.Text(r.Raw)
	default:
		return sqlval.Null()
	}
}

func jsonGet(args []sqlval.Value) (sqlval.Value, error) {
	doc, path, ok, err := jsonArgs(args[0], args[1])
	if err != nil || !ok {
		return sqlval.Null(), err
	}
	r := gjson.Get(doc, path)
	if !r.Exists() {
		return sqlval.Null(), nil
	}
	return resultValue(r), nil
}

func jsonHas(args []sqlval.Value) (sqlval.Value, error) {
	doc, path, ok, err := jsonArgs(args[0], args[1])
	if err != nil || !ok {
		return sqlval.Null(), err
	}
	return sqlval.Bool(gjson.Get(doc, path).Exists()), nil
}

// jsonPutValue converts a SQL value for storage in a document. TEXT that
// is itself a JSON object or array is embedded raw.
func jsonPutValue(v sqlval.Value) (raw string, err error) {
	switch v.Kind() {
	case sqlval.KindNull:
		return "null", nil
	case sqlval.KindInteger, sqlval.KindFloat:
		s, _ := v.Text()
		return s, nil
	case sqlval.KindText:
		s, _ := v.Text()
		trimmed := strings.TrimSpace(s)
		if trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[') && gjson.Valid(trimmed) {
			return trimmed, nil
		}
		return string(gjson.AppendJSONString(nil, s)), nil
	default:
		return "", errors.New("cannot store a BLOB in a JSON document")
	}
}

func jsonPut(args []sqlval.Value) (sqlval.Value, error) {
	doc, path, ok, err := jsonArgs(args[0], args[1])
	if err != nil || !ok {
		return sqlval.Null(), err
	}
	if path == "@this" {
		return sqlval.Null(), errRootPath
	}
	raw, err := jsonPutValue(args[2])
	if err != nil {
		return sqlval.Null(), err
	}
	out, err := sjson.SetRaw(doc, path, raw)
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Text(out), nil
}

func jsonDelete(args []sqlval.Value) (sqlval.Value, error) {
	doc, path, ok, err := jsonArgs(args[0], args[1])
	if err != nil || !ok {
		return sqlval.Null(), err
	}
	if path == "@this" {
		return sqlval.Null(), errRootPath
	}
	out, err := sjson.Delete(doc, path)
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Text(out), nil
}

func jsonValidDoc(args []sqlval.Value) (sqlval.Value, error) {
	doc, ok := args[0].Text()
	if !ok {
		return sqlval.Null(), nil
	}
	return sqlval.Bool(gjson.Valid(doc)), nil
}

func jsonFunctions() []Descriptor {
	return []Descriptor{
		{Name: "json_get", Arity: 2, Deterministic: true, Scalar: jsonGet},
		{Name: "json_put", Arity: 3, Deterministic: true, Scalar: jsonPut},
		{Name: "json_delete", Arity: 2, Deterministic: true, Scalar: jsonDelete},
		{Name: "json_has", Arity: 2, Deterministic: true, Scalar: jsonHas},
		{Name: "json_valid_doc", Arity: 1, Deterministic: true, Scalar: jsonValidDoc},
	}
}
