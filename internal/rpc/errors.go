package rpc

import "errors"

// ErrBadStatus marks a reply whose HTTP status line was not 200 OK. Callers
// treat it like other transport-level faults (retryable), as opposed to a
// service-level *Error which is authoritative.
var ErrBadStatus = errors.New("unexpected http status")
