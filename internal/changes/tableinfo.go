package changes

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/litecore/internal/pool"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// affinity is a column's type affinity as the engine derives it from the
// declared type.
type affinity int

const (
	affinityBlob affinity = iota
	affinityText
	affinityNumeric
	affinityInteger
	affinityReal
)

// affinityOf applies the engine's affinity rules in order.
func affinityOf(declared string) affinity {
	t := strings.ToUpper(declared)
	switch {
	case strings.Contains(t, "INT"):
		return affinityInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return affinityText
	case strings.Contains(t, "BLOB"):
		return affinityBlob
	case t == "":
		return affinityBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return affinityReal
	default:
		return affinityNumeric
	}
}

// tableInfo is a table's column layout.
type tableInfo struct {
	names      []string
	declared   []string
	affinities []affinity
}

// loadTableInfo reads every column of table, generated ones included.
func loadTableInfo(ctx context.Context, h *pool.Handle, table string) (*tableInfo, error) {
	rs, err := h.Query(ctx, "PRAGMA table_xinfo("+quoteIdent(table)+")", nil)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	info := &tableInfo{}
	for row := range rs.All() {
		nameVal, _ := row.Get("name")
		typeVal, _ := row.Get("type")
		name, _ := nameVal.Text()
		declared, _ := typeVal.Text()
		info.names = append(info.names, name)
		info.declared = append(info.declared, declared)
		info.affinities = append(info.affinities, affinityOf(declared))
	}
	if len(info.names) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return info, nil
}

// row converts raw hook values into a Row. The hook reports text and blobs
// alike as bytes; the column's affinity tells them apart, and columns
// without one hold text when the bytes are valid UTF-8.
func (t *tableInfo) row(raw []any) *sqlval.Row {
	values := make([]sqlval.Value, len(raw))
	for i, v := range raw {
		switch v := v.(type) {
		case nil:
			values[i] = sqlval.Null()
		case int64:
			values[i] = sqlval.Integer(v)
		case float64:
			values[i] = sqlval.Float(v)
		case []byte:
			values[i] = t.bytesValue(i, v)
		case string:
			values[i] = sqlval.Text(v)
		default:
			values[i] = sqlval.Text(fmt.Sprint(v))
		}
	}
	names := make([]string, len(t.names))
	copy(names, t.names)
	return sqlval.NewRow(names, values)
}

func (t *tableInfo) bytesValue(col int, b []byte) sqlval.Value {
	switch t.affinities[col] {
	case affinityBlob:
		if t.declared[col] == "" && utf8.Valid(b) {
			return sqlval.Text(string(b))
		}
		return sqlval.Blob(b)
	default:
		return sqlval.Text(string(b))
	}
}
