package sqlval

import (
	"database/sql"
	"fmt"
	"iter"

	json "github.com/goccy/go-json"
)

// Row is one result row: an ordered list of named columns.
type Row struct {
	columns []string
	values  []Value
}

// NewRow builds a row. columns and values must have the same length.
func NewRow(columns []string, values []Value) *Row {
	return &Row{columns: columns, values: values}
}

// Columns returns the column names in order.
func (r *Row) Columns() []string { return r.columns }

// Values returns the column values in order.
func (r *Row) Values() []Value { return r.values }

// Len returns the number of columns.
func (r *Row) Len() int { return len(r.values) }

// At returns the value of column i.
func (r *Row) At(i int) Value { return r.values[i] }

// Get returns the value of the first column called name.
func (r *Row) Get(name string) (Value, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return Value{}, false
}

// Equal reports whether both rows have the same columns and values.
func (r *Row) Equal(o *Row) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.values) != len(o.values) || len(r.columns) != len(o.columns) {
		return false
	}
	for i := range r.values {
		if r.columns[i] != o.columns[i] || !r.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the row as an object of column name to value,
// preserving column order.
func (r *Row) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, c := range r.columns {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := r.values[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

// ResultSet is the finite, non-restartable sequence of rows produced by one
// statement execution. Once a row has been read with Next it cannot be read
// again; All resumes from the current position.
type ResultSet struct {
	columns []string
	rows    []*Row
	pos     int
	cur     *Row
}

// NewResultSet builds a result set from already materialised rows.
func NewResultSet(columns []string, rows []*Row) *ResultSet {
	return &ResultSet{columns: columns, rows: rows}
}

// Columns returns the column names.
func (rs *ResultSet) Columns() []string { return rs.columns }

// Len returns the number of rows not yet consumed.
func (rs *ResultSet) Len() int { return len(rs.rows) - rs.pos }

// Next advances to the next row.
func (rs *ResultSet) Next() bool {
	if rs.pos >= len(rs.rows) {
		rs.cur = nil
		return false
	}
	rs.cur = rs.rows[rs.pos]
	rs.rows[rs.pos] = nil
	rs.pos++
	return true
}

// Row returns the row Next advanced to.
func (rs *ResultSet) Row() *Row { return rs.cur }

// All yields the remaining rows.
func (rs *ResultSet) All() iter.Seq[*Row] {
	return func(yield func(*Row) bool) {
		for rs.Next() {
			if !yield(rs.cur) {
				return
			}
		}
	}
}

// Collect drains the remaining rows into a slice.
func (rs *ResultSet) Collect() []*Row {
	out := make([]*Row, 0, rs.Len())
	for row := range rs.All() {
		out = append(out, row)
	}
	return out
}

// ScanRows materialises rows into a ResultSet and closes them.
func ScanRows(rows *sql.Rows) (*ResultSet, error) {
	defer rows.Close() //nolint:errcheck // Close error surfaces through rows.Err

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []*Row
	for rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewResultSet(columns, out), nil
}

// ScanOne reads the current row of rows (after a successful rows.Next).
func ScanOne(rows *sql.Rows) (*Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	return scanRow(rows, columns)
}

func scanRow(rows *sql.Rows, columns []string) (*Row, error) {
	raw := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	values := make([]Value, len(columns))
	for i, v := range raw {
		val, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", columns[i], err)
		}
		values[i] = val
	}
	return NewRow(columns, values), nil
}
