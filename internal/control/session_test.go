package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildctl/internal/config"
	"git.home.luguber.info/inful/buildctl/internal/retry"
	"git.home.luguber.info/inful/buildctl/internal/rpc"
)

func testRemote() config.RemoteConfig {
	return config.RemoteConfig{Host: "localhost", Port: 7587, User: "root", Password: "foo", TimeoutSeconds: 1, Retries: 3}
}

func fastPolicy(maxRetries int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, maxRetries)
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	failures := 2
	fc := &fakeCaller{handler: func(method string, _ []any) (any, error) {
		switch method {
		case "get_version":
			if failures > 0 {
				failures--
				return nil, transientErr()
			}
			return ProtocolVersion, nil
		case "login":
			return true, nil
		}
		t.Fatalf("unexpected method %s", method)
		return nil, nil
	}}

	s, err := connect(context.Background(), fc, testRemote(), fastPolicy(5))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 3, fc.count("get_version"))
	assert.Equal(t, 1, fc.count("login"))
}

func TestConnectExhaustsRetryBudget(t *testing.T) {
	fc := &fakeCaller{handler: func(string, []any) (any, error) {
		return nil, transientErr()
	}}

	_, err := connect(context.Background(), fc, testRemote(), fastPolicy(3))
	require.Error(t, err)
	// initial attempt plus three retries
	assert.Equal(t, 4, fc.count("get_version"))
	assert.Zero(t, fc.count("login"))
}

func TestVersionMismatchAbortsBeforeLogin(t *testing.T) {
	fc := &fakeCaller{handler: func(method string, _ []any) (any, error) {
		if method == "get_version" {
			return "0.1", nil
		}
		t.Fatalf("unexpected method %s", method)
		return nil, nil
	}}

	_, err := connect(context.Background(), fc, testRemote(), fastPolicy(5))
	var mismatch *VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ProtocolVersion, mismatch.Client)
	assert.Equal(t, "0.1", mismatch.Server)
	// Incompatibility is not a transient fault: one probe, no retries, no login.
	assert.Equal(t, 1, fc.count("get_version"))
	assert.Zero(t, fc.count("login"))
}

func TestConnectServiceErrorNotRetried(t *testing.T) {
	fc := &fakeCaller{handler: func(string, []any) (any, error) {
		return nil, &rpc.Error{Code: -32601, Message: "method not found"}
	}}

	_, err := connect(context.Background(), fc, testRemote(), fastPolicy(5))
	require.Error(t, err)
	assert.Equal(t, 1, fc.count("get_version"))
}

func TestLoginRejected(t *testing.T) {
	fc := &fakeCaller{handler: func(method string, _ []any) (any, error) {
		switch method {
		case "get_version":
			return ProtocolVersion, nil
		case "login":
			return false, nil
		}
		return nil, nil
	}}

	_, err := connect(context.Background(), fc, testRemote(), fastPolicy(1))
	var auth *AuthError
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, "root", auth.User)
}
