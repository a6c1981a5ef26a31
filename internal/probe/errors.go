package probe

import "fmt"

// TransportError marks connection-level failures (refused, timeout,
// mid-stream disconnect) as distinct from protocol-level conditions. A
// streaming call that fails this way still returns the partial summary
// accumulated so far.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx HTTP response from the proxy.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("proxy returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("proxy returned HTTP %d: %s", e.Status, e.Body)
}
