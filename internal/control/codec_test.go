package control

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller dispatches RPC calls to a handler and records the method order.
type fakeCaller struct {
	handler func(method string, params []any) (any, error)
	calls   []string
}

func (f *fakeCaller) Call(_ context.Context, method string, params []any, out any) error {
	f.calls = append(f.calls, method)
	v, err := f.handler(method, params)
	if err != nil {
		return err
	}
	if out == nil || v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakeCaller) count(method string) int {
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func transientErr() error {
	return fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestPushOrigFileChunking(t *testing.T) {
	// 2.5 MiB at a 1 MiB block size: exactly three appends then one finish.
	content := randomBytes(t, 2*blockSize+blockSize/2)
	path := writeTemp(t, "foo_1.0.orig.tar.gz", content)

	var sizes []int
	fc := &fakeCaller{handler: func(method string, params []any) (any, error) {
		if method == "append_upload_orig" {
			raw, err := base64.StdEncoding.DecodeString(params[1].(string))
			require.NoError(t, err)
			sizes = append(sizes, len(raw))
		}
		return nil, nil
	}}
	s := &Session{rpc: fc}

	require.NoError(t, s.PushOrigFile(context.Background(), "prj", path))
	assert.Equal(t, []int{blockSize, blockSize, blockSize / 2}, sizes)
	assert.Equal(t, 1, fc.count("start_upload_orig"))
	assert.Equal(t, 1, fc.count("finish_upload_orig"))
	assert.Equal(t, "finish_upload_orig", fc.calls[len(fc.calls)-1])
}

func TestPushOrigFileEmpty(t *testing.T) {
	// A zero-byte file still produces its (empty) terminal append.
	path := writeTemp(t, "empty.orig.tar.gz", nil)

	var sizes []int
	fc := &fakeCaller{handler: func(method string, params []any) (any, error) {
		if method == "append_upload_orig" {
			raw, err := base64.StdEncoding.DecodeString(params[1].(string))
			require.NoError(t, err)
			sizes = append(sizes, len(raw))
		}
		return nil, nil
	}}
	s := &Session{rpc: fc}

	require.NoError(t, s.PushOrigFile(context.Background(), "prj", path))
	assert.Equal(t, []int{0}, sizes)
	assert.Equal(t, 1, fc.count("finish_upload_orig"))
}

func TestPushOrigFileExactMultiple(t *testing.T) {
	// Exactly one block: the empty read that follows is still appended.
	path := writeTemp(t, "block.orig.tar.gz", randomBytes(t, blockSize))

	var sizes []int
	fc := &fakeCaller{handler: func(method string, params []any) (any, error) {
		if method == "append_upload_orig" {
			raw, err := base64.StdEncoding.DecodeString(params[1].(string))
			require.NoError(t, err)
			sizes = append(sizes, len(raw))
		}
		return nil, nil
	}}
	s := &Session{rpc: fc}

	require.NoError(t, s.PushOrigFile(context.Background(), "prj", path))
	assert.Equal(t, []int{blockSize, 0}, sizes)
}

func TestAcknowledgedUploadEchoesGrantedIndices(t *testing.T) {
	content := randomBytes(t, 2*blockSize+blockSize/2)
	path := writeTemp(t, "source.xml", content)

	grants := []int{7, 3, 5} // arbitrary non-monotonic server-side flow control
	var sentParts []int
	fc := &fakeCaller{handler: func(method string, params []any) (any, error) {
		require.Equal(t, "upload_file", method)
		part := params[3].(int)
		sentParts = append(sentParts, part)
		if part == finalChunkMarker {
			return ackCompleted, nil
		}
		g := grants[0]
		grants = grants[1:]
		return g, nil
	}}
	s := &Session{rpc: fc}

	require.NoError(t, s.SetConfig(context.Background(), "prj", path))
	// The client starts at 0, then echoes whatever the server granted; the
	// final empty chunk carries the reserved marker instead of an index.
	assert.Equal(t, []int{0, 7, 3, finalChunkMarker}, sentParts)
}

func TestAcknowledgedUploadRejected(t *testing.T) {
	path := writeTemp(t, "source.xml", randomBytes(t, 128))

	fc := &fakeCaller{handler: func(string, []any) (any, error) {
		return ackRejected, nil
	}}
	s := &Session{rpc: fc}

	err := s.SetConfig(context.Background(), "prj", path)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 1, fc.count("upload_file"), "no further requests after reject")
}

func TestAcknowledgedUploadCompleteEndsLoop(t *testing.T) {
	path := writeTemp(t, "source.xml", randomBytes(t, 3*blockSize))

	fc := &fakeCaller{handler: func(string, []any) (any, error) {
		return ackCompleted, nil
	}}
	s := &Session{rpc: fc}

	require.NoError(t, s.SetConfig(context.Background(), "prj", path))
	assert.Equal(t, 1, fc.count("upload_file"), "no data sent after complete")
}

// serveChunks answers get_file calls from an in-memory byte slice.
func serveChunks(content []byte) func(method string, params []any) (any, error) {
	return func(method string, params []any) (any, error) {
		part := params[2].(int)
		off := part * blockSize
		if off >= len(content) {
			return endOfFileSentinel, nil
		}
		end := off + blockSize
		if end > len(content) {
			end = len(content)
		}
		return base64.StdEncoding.EncodeToString(content[off:end]), nil
	}
}

func TestDownloadRoundTrip(t *testing.T) {
	// 2.5 MiB: chunks 0..2 plus the terminal sentinel reply, four calls total.
	content := randomBytes(t, 2*blockSize+blockSize/2)
	fc := &fakeCaller{handler: serveChunks(content)}
	s := &Session{rpc: fc}

	dst := filepath.Join(t.TempDir(), "result.tar.gz")
	require.NoError(t, s.DumpFile(context.Background(), "prj", "result.tar.gz", dst))
	assert.Equal(t, 4, fc.count("get_file"))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got), "downloaded bytes differ from original")
}

func TestDownloadZeroLength(t *testing.T) {
	fc := &fakeCaller{handler: serveChunks(nil)}
	s := &Session{rpc: fc}

	dst := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, s.DumpFile(context.Background(), "prj", "empty.bin", dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUploadDownloadRoundTripEquality(t *testing.T) {
	for _, size := range []int{0, 1, blockSize, 2*blockSize + blockSize/2} {
		content := randomBytes(t, size)
		src := writeTemp(t, "src.bin", content)

		var remote []byte
		up := &fakeCaller{handler: func(method string, params []any) (any, error) {
			if method == "append_upload_orig" {
				raw, err := base64.StdEncoding.DecodeString(params[1].(string))
				if err != nil {
					return nil, err
				}
				remote = append(remote, raw...)
			}
			return nil, nil
		}}
		require.NoError(t, (&Session{rpc: up}).PushOrigFile(context.Background(), "prj", src))

		down := &fakeCaller{handler: serveChunks(remote)}
		dst := filepath.Join(t.TempDir(), "dst.bin")
		require.NoError(t, (&Session{rpc: down}).DumpFile(context.Background(), "prj", "src.bin", dst))

		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(content, got), "size %d: bytes differ after round trip", size)
	}
}

func TestDownloadRetriesTransientChunkFaults(t *testing.T) {
	content := randomBytes(t, blockSize/2)
	failures := 2
	inner := serveChunks(content)
	fc := &fakeCaller{handler: func(method string, params []any) (any, error) {
		if failures > 0 {
			failures--
			return nil, transientErr()
		}
		return inner(method, params)
	}}
	s := &Session{rpc: fc}

	dst := filepath.Join(t.TempDir(), "result.bin")
	require.NoError(t, s.DumpFile(context.Background(), "prj", "result.bin", dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestDownloadAbortsAfterRetryBudget(t *testing.T) {
	fc := &fakeCaller{handler: func(string, []any) (any, error) {
		return nil, transientErr()
	}}
	s := &Session{rpc: fc}

	dst := filepath.Join(t.TempDir(), "result.bin")
	err := s.DumpFile(context.Background(), "prj", "result.bin", dst)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, downloadChunkRetries, fc.count("get_file"))
	// The partial file is closed but left in place for the caller.
	_, statErr := os.Stat(dst)
	assert.NoError(t, statErr)
}

func TestParseAck(t *testing.T) {
	assert.Equal(t, uploadAck{rejected: true}, parseAck(-1))
	assert.Equal(t, uploadAck{completed: true}, parseAck(-2))
	// A legitimate large index must never be mistaken for a sentinel.
	assert.Equal(t, uploadAck{next: 1 << 20}, parseAck(1<<20))
	assert.Equal(t, uploadAck{next: 0}, parseAck(0))
}
