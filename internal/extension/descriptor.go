package extension

import (
	"fmt"
	"strings"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// Variadic is the arity of a function that accepts any number of arguments.
const Variadic = -1

// maxArity is the engine's default SQLITE_MAX_FUNCTION_ARG.
const maxArity = 127

// ScalarFunc implements a scalar SQL function. args has exactly Arity
// elements unless the function is variadic.
type ScalarFunc func(args []sqlval.Value) (sqlval.Value, error)

// Aggregator accumulates one group of an aggregate SQL function.
// A fresh Aggregator is created for every group.
type Aggregator interface {
	// Step accumulates one row.
	Step(args []sqlval.Value) error

	// Final returns the aggregate result. It is called once, including for
	// groups with no rows.
	Final() (sqlval.Value, error)
}

// Descriptor describes one native function. Exactly one of Scalar and
// NewAggregate must be set.
type Descriptor struct {
	// Name is the SQL name. It must be a plain identifier.
	Name string

	// Arity is the number of arguments, or Variadic.
	Arity int

	// Deterministic marks functions whose result depends only on their
	// arguments.
	Deterministic bool

	Scalar       ScalarFunc
	NewAggregate func() Aggregator
}

// IsAggregate reports whether d describes an aggregate function.
func (d Descriptor) IsAggregate() bool { return d.NewAggregate != nil }

// String renders d as name/arity for logs.
func (d Descriptor) String() string {
	if d.Arity == Variadic {
		return d.Name + "/*"
	}
	return fmt.Sprintf("%s/%d", d.Name, d.Arity)
}

func (d Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	}
	for i, c := range d.Name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return fmt.Errorf("%w: name %q is not a plain identifier", ErrInvalidDescriptor, d.Name)
		}
	}
	if strings.HasPrefix(strings.ToLower(d.Name), "sqlite_") {
		return fmt.Errorf("%w: name %q uses the reserved sqlite_ prefix", ErrInvalidDescriptor, d.Name)
	}
	if d.Arity < Variadic || d.Arity > maxArity {
		return fmt.Errorf("%w: %s: arity %d out of range", ErrInvalidDescriptor, d.Name, d.Arity)
	}
	if (d.Scalar == nil) == (d.NewAggregate == nil) {
		return fmt.Errorf("%w: %s: exactly one of Scalar and NewAggregate must be set", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

// key identifies a function the way the engine does: case-folded name plus
// arity.
type key struct {
	name  string
	arity int
}

func keyOf(name string, arity int) key {
	return key{name: strings.ToLower(name), arity: arity}
}
