package control

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/buildctl/internal/logfields"
)

// blockSize is the fixed read size for uploads. The first short (possibly
// empty) read ends the upload; that block is still appended.
const blockSize = 1 << 20

// Wire sentinels of the transfer protocol. This is a closed, versioned
// contract; the values must not change.
const (
	endOfFileSentinel = "EndOfFile" // get_file: no more chunks
	finalChunkMarker  = -1          // upload_file: client marks the final empty chunk
	ackRejected       = -1          // upload_file reply: project busy, abort
	ackCompleted      = -2          // upload_file reply: document accepted
)

// downloadChunkRetries is the per-chunk retry budget for transient faults
// during a chunked download.
const downloadChunkRetries = 5

// uploadAck is the decoded reply of an acknowledged upload_file call.
type uploadAck struct {
	rejected  bool
	completed bool
	next      int // next chunk index granted by the server
}

func parseAck(v int) uploadAck {
	switch v {
	case ackRejected:
		return uploadAck{rejected: true}
	case ackCompleted:
		return uploadAck{completed: true}
	default:
		return uploadAck{next: v}
	}
}

// readBlock reads up to blockSize bytes. It reports last=true on the first
// short or empty read; that block must still be sent.
func readBlock(r io.Reader, buf []byte) (n int, last bool, err error) {
	n, err = io.ReadFull(r, buf)
	switch err {
	case nil:
		return n, false, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return n, true, nil
	default:
		return 0, false, err
	}
}

// uploadBlocks streams a local file through the given append call. Every
// block is transport-encoded and appended in order; no block is skipped, even
// an empty terminal one.
func uploadBlocks(path string, appendChunk func(data string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, blockSize)
	for {
		n, last, err := readBlock(f, buf)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		data := base64.StdEncoding.EncodeToString(buf[:n])
		if err := appendChunk(data); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

// uploadAcknowledged pushes a document through the flow-controlled upload_file
// protocol. The client never chooses its own chunk index: it echoes whatever
// index the server last granted, and tags the final empty chunk with the
// reserved marker.
func (s *Session) uploadAcknowledged(ctx context.Context, project, remoteName, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, blockSize)
	part := 0
	for {
		n, _, err := readBlock(f, buf)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		data := base64.StdEncoding.EncodeToString(buf[:n])

		sendPart := part
		if n == 0 {
			sendPart = finalChunkMarker
		}

		var reply int
		if err := s.rpc.Call(ctx, "upload_file", []any{project, remoteName, data, sendPart}, &reply); err != nil {
			return fmt.Errorf("upload_file %s: %w", remoteName, err)
		}

		ack := parseAck(reply)
		switch {
		case ack.rejected:
			return &RejectedError{Project: project, Name: remoteName}
		case ack.completed:
			slog.Debug("Acknowledged upload finished", logfields.Project(project), logfields.File(remoteName))
			return nil
		default:
			part = ack.next
		}
	}
}

// downloadFile fetches remote file content chunk by chunk into dst. Transient
// faults are retried per chunk up to a fixed budget; exhausting it aborts the
// download with a TransferError, leaving the partial file in place.
func (s *Session) downloadFile(ctx context.Context, project, remoteName, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	part := 0
	for {
		var data string
		attempt := 0
		for {
			err := s.rpc.Call(ctx, "get_file", []any{project, remoteName, part}, &data)
			if err == nil {
				break
			}
			attempt++
			if !isTransient(err) || attempt >= downloadChunkRetries {
				f.Close()
				return &TransferError{File: remoteName, Err: err}
			}
			slog.Warn("Chunk fetch failed, retrying",
				logfields.File(remoteName), logfields.Chunk(part), logfields.Attempt(attempt), logfields.Error(err))
		}

		if data == endOfFileSentinel {
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", dst, err)
			}
			return nil
		}

		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			f.Close()
			return &TransferError{File: remoteName, Err: fmt.Errorf("decode chunk %d: %w", part, err)}
		}
		if _, err := f.Write(raw); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", dst, err)
		}
		part++
	}
}
