package ledger

import "fmt"

// Fault is a business-level failure signaled by the ERP in an otherwise
// well-formed response. Message carries the upstream text verbatim so the
// user sees what the ERP said. Always recoverable by re-invoking the
// operation.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Fault) Error() string {
	if f.Code == "" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// TransportError is a network or I/O failure talking to an ERP service,
// as opposed to the service answering with a Fault.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
