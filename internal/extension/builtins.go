package extension

// Builtins returns the descriptors of the built-in function set.
func Builtins() []Descriptor {
	var descs []Descriptor
	for _, group := range [][]Descriptor{
		hashFunctions(),
		uuidFunctions(),
		jsonFunctions(),
		codecFunctions(),
		regexpFunctions(),
		passwordFunctions(),
	} {
		descs = append(descs, group...)
	}
	return descs
}

// NewDefaultRegistry returns a registry holding the built-in functions. It
// is not frozen; callers may add their own functions before opening a pool.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.RegisterAll(Builtins()...); err != nil {
		// Built-in descriptors are static; a failure is a programming error.
		panic("extension: registering built-ins: " + err.Error())
	}
	return r
}
