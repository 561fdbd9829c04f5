// Package registry provides a generic thread-safe registry for values indexed by key.
//
// Registry backs the named lookups of the atom runtime: executors by name,
// event buses by identity, and the runtime's singleton slots. Iteration
// follows insertion order, so callers that fan work out over the registry
// (for example posting an event to every compatible bus) observe a stable
// order.
//
// # Basic Usage
//
//	r := registry.New[string, executor.Executor]()
//	if err := r.Insert("io", pool); err != nil {
//	    // a pool named "io" already exists
//	}
//
//	pool, ok := r.Get("io")
//
// # Lazy Initialization
//
// GetOrCreate is atomic - the factory function is called at most once per key:
//
//	group := children.GetOrCreate(key, func() *node {
//	    return newNode(parent, key)
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Range iterates over a snapshot,
// so Register, Insert or Remove may be called from inside the callback.
package registry
