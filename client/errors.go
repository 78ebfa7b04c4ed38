package client

import "fmt"

// TransportError means the endpoint could not be reached or its answer could
// not be read.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("prediction endpoint %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError carries the message of an {"error": ...} response.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("prediction endpoint error (status %d): %s", e.StatusCode, e.Message)
}
