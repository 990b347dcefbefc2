package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"

	"git.home.luguber.info/inful/buildctl/internal/rpc"
)

// VersionMismatchError reports an incompatible client/server pairing. It is
// never retried.
type VersionMismatchError struct {
	Client string
	Server string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("protocol version mismatch: client %s, server %s", e.Client, e.Server)
}

// AuthError reports rejected credentials.
type AuthError struct {
	User string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login rejected for user %q", e.User)
}

// RejectedError reports that the remote project refused an acknowledged upload
// because it is busy. The whole upload is aborted.
type RejectedError struct {
	Project string
	Name    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("project %s busy, upload of %s rejected", e.Project, e.Name)
}

// StatusError reports a final project status other than success after the
// busy stream terminated. The stream ending cleanly does not imply success.
type StatusError struct {
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("project build was not successful, current status: %s", e.Status)
}

// TransferError reports an aborted chunked download. The partially written
// destination file is closed but left in place.
type TransferError struct {
	File string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("file transfer of %s failed: %v", e.File, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// isTransient reports whether an error is a network-class fault worth
// retrying: refused or reset connections, timeouts, a malformed status line or
// reply body. Service-level RPC errors are authoritative and never transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	if errors.Is(err, rpc.ErrBadStatus) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var synErr *json.SyntaxError
	if errors.As(err, &synErr) {
		return true
	}
	return false
}
