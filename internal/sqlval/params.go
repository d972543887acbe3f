package sqlval

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Param is one bound statement parameter. An empty Name binds positionally.
type Param struct {
	Name  string
	Value Value
}

// Params is an ordered parameter list. Positional parameters bind in order;
// named parameters bind by name with or without their prefix character.
type Params []Param

// Args builds positional parameters from Go values. It panics on values
// FromAny cannot convert, matching how database/sql rejects them at bind time.
func Args(values ...any) Params {
	params := make(Params, 0, len(values))
	for _, v := range values {
		params = append(params, Param{Value: MustFromAny(v)})
	}
	return params
}

// Named builds named parameters. Names may carry a leading ':', '@' or '$'.
// The result is sorted by name so binding is deterministic.
func Named(values map[string]any) Params {
	params := make(Params, 0, len(values))
	for name, v := range values {
		params = append(params, Param{Name: trimPrefix(name), Value: MustFromAny(v)})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// Positional reports how many parameters bind by position.
func (p Params) Positional() int {
	n := 0
	for _, param := range p {
		if param.Name == "" {
			n++
		}
	}
	return n
}

// Names returns the set of named parameters, without prefixes.
func (p Params) Names() map[string]struct{} {
	names := make(map[string]struct{})
	for _, param := range p {
		if param.Name != "" {
			names[trimPrefix(param.Name)] = struct{}{}
		}
	}
	return names
}

// DriverArgs converts p into arguments for database/sql. Named parameters
// become sql.NamedArg values.
func (p Params) DriverArgs() []any {
	if len(p) == 0 {
		return nil
	}
	args := make([]any, 0, len(p))
	for _, param := range p {
		if param.Name != "" {
			args = append(args, sql.Named(trimPrefix(param.Name), param.Value.Any()))
			continue
		}
		args = append(args, param.Value.Any())
	}
	return args
}

// String renders the parameter list for logs.
func (p Params) String() string {
	parts := make([]string, 0, len(p))
	for i, param := range p {
		if param.Name != "" {
			parts = append(parts, fmt.Sprintf(":%s=%s", param.Name, param.Value))
			continue
		}
		parts = append(parts, fmt.Sprintf("?%d=%s", i+1, param.Value))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func trimPrefix(name string) string {
	if name != "" && strings.ContainsRune(":@$", rune(name[0])) {
		return name[1:]
	}
	return name
}
