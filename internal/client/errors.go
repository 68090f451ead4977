package client

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrUploadRejected  = errors.New("upload rejected by server")
	ErrUploadCancelled = errors.New("upload cancelled")
)

// ConnectionError reports a socket that failed or closed mid-exchange. The
// transport tears the connection down when one occurs; it is never retried
// silently.
type ConnectionError struct {
	Op    string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }
