package try

// Fataler is something which can stop a test or a program with a message.
//
// *testing.T and *log.Logger satisfy this.
type Fataler interface {
	Fatal(...any)
}

// Either holds a value and an error returned together by a function call.
//
// It is "ok" when the error is nil.
type Either[T any] struct {
	value T
	err   error
}

// To captures a (value, error) pair.
//
// Typical usage in tests:
//
//	key := try.To(domain.ParseToken("a/b")).OrFatal(t)
func To[T any](value T, err error) Either[T] {
	if err != nil {
		return Either[T]{err: err}
	}
	return Either[T]{value: value}
}

func (e Either[T]) Get() (T, error) {
	return e.value, e.err
}

// OrFatal returns the value, or calls ftl.Fatal with the error.
//
// If ftl has `Helper()` (like *testing.T), it is called before Fatal.
func (e Either[T]) OrFatal(ftl Fataler) T {
	if e.err == nil {
		return e.value
	}
	if h, ok := ftl.(interface{ Helper() }); ok {
		h.Helper()
	}
	ftl.Fatal(e.err)
	return *new(T)
}

// OrDefault returns the value, or d when it has an error.
func (e Either[T]) OrDefault(d T) T {
	if e.err != nil {
		return d
	}
	return e.value
}

// Map converts the value when it is ok.
func Map[T, R any](e Either[T], mapper func(T) R) Either[R] {
	if e.err != nil {
		return Either[R]{err: e.err}
	}
	return Either[R]{value: mapper(e.value)}
}
