package adapter

import "fmt"

// ConnectionError indicates the adapter could not reach its store. The
// engines surface it without retrying; any vendor-specific backoff happens
// inside the adapter.
type ConnectionError struct {
	Driver string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Driver, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
