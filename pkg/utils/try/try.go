// Package try shortens tests handling (value, error) pairs.
//
//	conf := try.To(dataset.Load(path)).OrFatal(t)
package try

// Fataler is something having method `Fatal`, like *testing.T.
type Fataler interface {
	Fatal(...any)
}

// Result wraps a pair of (T, error).
type Result[T any] struct {
	value T
	err   error
}

func To[T any](value T, err error) Result[T] {
	return Result[T]{value: value, err: err}
}

// Get returns the pair wrapped.
func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}

// OrFatal returns the value when there are no errors.
//
// Otherwise, it calls ftl.Fatal(err) and returns the zero value.
// If ftl has "Helper()" method (like *testing.T), that is called before `Fatal`.
func (r Result[T]) OrFatal(ftl Fataler) T {
	if r.err == nil {
		return r.value
	}
	if hlp, ok := ftl.(interface{ Helper() }); ok {
		hlp.Helper()
	}
	ftl.Fatal(r.err)
	return *new(T)
}
