package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent Op and Component propagation.
// It avoids repetition when creating structured errors throughout the codebase.
// If err is nil, returns nil.
func WrapOpComponent(err error, op, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(Operation(op), component, err)
}

// WrapPersistence wraps a backend error as a persistence failure carrying the
// backend's op and component names. If err is nil, returns nil.
func WrapPersistence(err error, op, component string) error {
	if err == nil {
		return nil
	}
	e := NewPersistenceError(Operation(op), err)
	e.Component = component
	return e
}
