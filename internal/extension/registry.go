package extension

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/litecore/internal/sqlerr"
	"github.com/nerrad567/litecore/internal/sqlval"
)

// Registry holds the native functions installed on every connection of one
// engine. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[key]Descriptor
	order  []key
	frozen atomic.Bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[key]Descriptor)}
}

// Register adds one function.
//
// Returns ErrFrozen after Freeze, ErrInvalidDescriptor for malformed
// descriptors and ErrDuplicate when the name and arity are taken. Aggregates
// are installed as variadic engine functions, so an aggregate name may only be
// registered once regardless of arity.
func (r *Registry) Register(d Descriptor) error {
	return r.RegisterAll(d)
}

// RegisterAll adds several functions atomically: either all are registered
// or none are.
func (r *Registry) RegisterAll(descs ...Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrFrozen
	}

	pending := make(map[key]Descriptor, len(descs))
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return err
		}
		k := keyOf(d.Name, d.Arity)
		if _, ok := r.funcs[k]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, d)
		}
		if _, ok := pending[k]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, d)
		}
		if d.IsAggregate() {
			if other, ok := r.aggregateNamed(k.name, pending); ok {
				return fmt.Errorf("%w: aggregate %s conflicts with %s", ErrDuplicate, d, other)
			}
		}
		pending[k] = d
	}

	for _, d := range descs {
		k := keyOf(d.Name, d.Arity)
		r.funcs[k] = d
		r.order = append(r.order, k)
	}
	return nil
}

func (r *Registry) aggregateNamed(name string, pending map[key]Descriptor) (Descriptor, bool) {
	for _, set := range []map[key]Descriptor{r.funcs, pending} {
		for k, d := range set {
			if k.name == name && d.IsAggregate() {
				return d, true
			}
		}
	}
	return Descriptor{}, false
}

// Freeze makes the registry immutable. It is called by the pool before the
// first connection opens and is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// Lookup finds the function the engine would call for name with arity
// arguments: an exact arity match first, then a variadic one.
func (r *Registry) Lookup(name string, arity int) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.funcs[keyOf(name, arity)]; ok {
		return d, true
	}
	d, ok := r.funcs[keyOf(name, Variadic)]
	return d, ok
}

// Descriptors returns the registered functions in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.funcs[k])
	}
	return out
}

// Names returns the sorted, de-duplicated function names.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	for _, d := range r.Descriptors() {
		seen[strings.ToLower(d.Name)] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a scalar function natively, through the same marshaling
// boundary the engine uses. Errors are classified as sqlerr.ErrExtension.
func (r *Registry) Call(name string, args ...sqlval.Value) (sqlval.Value, error) {
	d, ok := r.Lookup(name, len(args))
	if !ok || d.IsAggregate() {
		return sqlval.Null(), fmt.Errorf("%w: %s/%d", ErrUnknownFunction, name, len(args))
	}
	out, err := invokeScalar(d, args)
	if err != nil {
		return sqlval.Null(), sqlerr.New(sqlerr.KindExtension, "call", err)
	}
	return out, nil
}

// Aggregate runs an aggregate function natively over rows, in order.
func (r *Registry) Aggregate(name string, rows ...[]sqlval.Value) (sqlval.Value, error) {
	r.mu.RLock()
	d, ok := r.aggregateNamed(strings.ToLower(name), nil)
	r.mu.RUnlock()
	if !ok {
		return sqlval.Null(), fmt.Errorf("%w: aggregate %s", ErrUnknownFunction, name)
	}
	agg := newAggregateAdapter(d)
	for _, row := range rows {
		if err := agg.step(row); err != nil {
			return sqlval.Null(), sqlerr.New(sqlerr.KindExtension, "call", err)
		}
	}
	out, err := agg.final()
	if err != nil {
		return sqlval.Null(), sqlerr.New(sqlerr.KindExtension, "call", err)
	}
	return out, nil
}

// Install registers every function on conn. It is the pool's ConnectHook and
// runs once per connection, before the connection is handed out.
func (r *Registry) Install(conn *sqlite3.SQLiteConn) error {
	for _, d := range r.Descriptors() {
		if err := install(conn, d); err != nil {
			return fmt.Errorf("installing %s: %w", d, err)
		}
	}
	return nil
}
