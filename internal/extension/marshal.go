package extension

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/litecore/internal/sqlval"
)

var (
	anyType   = reflect.TypeOf((*any)(nil)).Elem()
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// fromEngine converts an argument delivered by go-sqlite3 for an any
// parameter: int64, float64, string, []byte, or a nil []byte for NULL.
func fromEngine(v any) sqlval.Value {
	switch x := v.(type) {
	case nil:
		return sqlval.Null()
	case int64:
		return sqlval.Integer(x)
	case float64:
		return sqlval.Float(x)
	case string:
		return sqlval.Text(x)
	case []byte:
		if x == nil {
			return sqlval.Null()
		}
		return sqlval.Blob(x)
	default:
		val, err := sqlval.FromAny(v)
		if err != nil {
			return sqlval.Null()
		}
		return val
	}
}

// toEngine converts a result for go-sqlite3. The driver reports an empty
// []byte as NULL, so an empty BLOB result reaches SQL as NULL.
func toEngine(v sqlval.Value) any {
	return v.Any()
}

func fromEngineArgs(raw []any) []sqlval.Value {
	args := make([]sqlval.Value, len(raw))
	for i, v := range raw {
		args[i] = fromEngine(v)
	}
	return args
}

// invokeScalar runs a scalar implementation, converting panics and errors
// into a *FunctionError.
func invokeScalar(d Descriptor, args []sqlval.Value) (out sqlval.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = sqlval.Null(), &FunctionError{Name: d.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if d.Arity != Variadic && len(args) != d.Arity {
		return sqlval.Null(), &FunctionError{Name: d.Name, Err: fmt.Errorf("expected %d arguments, got %d", d.Arity, len(args))}
	}
	out, err = d.Scalar(args)
	if err != nil {
		var fe *FunctionError
		if errors.As(err, &fe) {
			return sqlval.Null(), err
		}
		return sqlval.Null(), &FunctionError{Name: d.Name, Err: err}
	}
	return out, nil
}

// engineResult adapts a call result to the (any, error) pair go-sqlite3
// expects.
func engineResult(out sqlval.Value, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return toEngine(out), nil
}

// scalarImpl builds the value handed to SQLiteConn.RegisterFunc.
//
// A fixed-arity function becomes func(any, ..., any) (any, error) with exactly
// Arity parameters, so the engine itself rejects calls with the wrong number
// of arguments. Variadic functions use func(...any) (any, error).
func scalarImpl(d Descriptor) any {
	call := func(raw []any) (any, error) {
		return engineResult(invokeScalar(d, fromEngineArgs(raw)))
	}

	if d.Arity == Variadic {
		return func(raw ...any) (any, error) { return call(raw) }
	}

	in := make([]reflect.Type, d.Arity)
	for i := range in {
		in[i] = anyType
	}
	fnType := reflect.FuncOf(in, []reflect.Type{anyType, errorType}, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		raw := make([]any, len(args))
		for i, a := range args {
			raw[i] = a.Interface()
		}
		out, err := call(raw)

		result := reflect.New(anyType).Elem()
		if out != nil {
			result.Set(reflect.ValueOf(out))
		}
		errVal := reflect.New(errorType).Elem()
		if err != nil {
			errVal.Set(reflect.ValueOf(err))
		}
		return []reflect.Value{result, errVal}
	})
	return fn.Interface()
}

// aggregateAdapter is the per-group state go-sqlite3 constructs for an
// aggregate. Step and Done have the method shapes RegisterAggregator
// requires.
type aggregateAdapter struct {
	d   Descriptor
	agg Aggregator
	err error
}

func newAggregateAdapter(d Descriptor) *aggregateAdapter {
	return &aggregateAdapter{d: d}
}

// Step is called by the engine for each row of the group.
func (a *aggregateAdapter) Step(raw ...any) error {
	return a.step(fromEngineArgs(raw))
}

// Done is called by the engine once per group.
func (a *aggregateAdapter) Done() (any, error) {
	return engineResult(a.final())
}

func (a *aggregateAdapter) step(args []sqlval.Value) (err error) {
	if a.err != nil {
		return a.err
	}
	defer func() {
		if r := recover(); r != nil {
			err = &FunctionError{Name: a.d.Name, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			a.err = err
		}
	}()
	if a.d.Arity != Variadic && len(args) != a.d.Arity {
		return &FunctionError{Name: a.d.Name, Err: fmt.Errorf("expected %d arguments, got %d", a.d.Arity, len(args))}
	}
	if a.agg == nil {
		a.agg = a.d.NewAggregate()
	}
	if err := a.agg.Step(args); err != nil {
		return &FunctionError{Name: a.d.Name, Err: err}
	}
	return nil
}

func (a *aggregateAdapter) final() (out sqlval.Value, err error) {
	if a.err != nil {
		return sqlval.Null(), a.err
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = sqlval.Null(), &FunctionError{Name: a.d.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if a.agg == nil {
		a.agg = a.d.NewAggregate()
	}
	out, err = a.agg.Final()
	if err != nil {
		return sqlval.Null(), &FunctionError{Name: a.d.Name, Err: err}
	}
	return out, nil
}

func install(conn *sqlite3.SQLiteConn, d Descriptor) error {
	if d.IsAggregate() {
		return conn.RegisterAggregator(d.Name, func() *aggregateAdapter {
			return newAggregateAdapter(d)
		}, d.Deterministic)
	}
	return conn.RegisterFunc(d.Name, scalarImpl(d), d.Deterministic)
}
