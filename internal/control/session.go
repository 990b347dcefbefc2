// Package control implements the client side of the remote build-control
// protocol: session establishment, chunked file transfer, busy-state watching
// and the primitive remote operations the workflow pipelines are built from.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildctl/internal/config"
	"git.home.luguber.info/inful/buildctl/internal/logfields"
	"git.home.luguber.info/inful/buildctl/internal/retry"
	"git.home.luguber.info/inful/buildctl/internal/rpc"
)

// ProtocolVersion is the protocol identifier this client speaks. The remote
// service must report exactly the same value.
const ProtocolVersion = "2.4"

// caller is the narrow RPC surface the session needs. Satisfied by
// *rpc.Client; tests substitute fakes.
type caller interface {
	Call(ctx context.Context, method string, params []any, out any) error
}

// Session is a live, authenticated connection to the remote build service.
// A session serves exactly one workflow invocation and is not safe for
// concurrent use.
type Session struct {
	rpc caller
}

// Connect opens a session: it dials the service with the policy's bounded
// retry budget for network-class failures, enforces the protocol version gate
// and logs in.
func Connect(ctx context.Context, rc config.RemoteConfig, pol retry.Policy) (*Session, error) {
	client := rpc.NewClient(rc.Endpoint(), rc.Timeout())
	return connect(ctx, client, rc, pol)
}

func connect(ctx context.Context, rc caller, remote config.RemoteConfig, pol retry.Policy) (*Session, error) {
	var serverVersion string
	attempt := 0
	for {
		err := rc.Call(ctx, "get_version", nil, &serverVersion)
		if err == nil {
			break
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("connect to %s: %w", remote.Endpoint(), err)
		}
		attempt++
		if attempt > pol.MaxRetries {
			return nil, fmt.Errorf("connect to %s after %d attempts: %w", remote.Endpoint(), attempt, err)
		}
		slog.Warn("Remote build service not reachable, retrying",
			logfields.Host(remote.Host), logfields.Attempt(attempt), logfields.Error(err))
		sleep(ctx, pol.Delay(attempt))
	}

	// Version incompatibility is a configuration problem, not a transient
	// fault: fail before any authentication call.
	if serverVersion != ProtocolVersion {
		return nil, &VersionMismatchError{Client: ProtocolVersion, Server: serverVersion}
	}

	var ok bool
	if err := rc.Call(ctx, "login", []any{remote.User, remote.Password}, &ok); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		return nil, &AuthError{User: remote.User}
	}

	slog.Debug("Session established", logfields.Host(remote.Host))
	return &Session{rpc: rc}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
