package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildctl/internal/logfields"
)

// Wire values of the busy-state protocol. Closed contract, do not change.
const (
	busyFinishedSentinel = "BUILD-FINISH" // get_project_busy: project stopped being busy
	statusBuildDone      = "build_done"   // get_project: the one successful final status
)

// busyPollInterval is the pause between polls when the project reports no new
// progress. Variable so tests can tighten it.
var busyPollInterval = 100 * time.Millisecond

// StatusStream is a single-pass, blocking sequence of remote progress
// messages. It never yields an empty message and never yields the terminating
// sentinel; a clean end of the stream says nothing about build success.
type StatusStream struct {
	sess    *Session
	project string
	done    bool
}

// Watch starts observing the busy state of a project.
func (s *Session) Watch(project string) *StatusStream {
	return &StatusStream{sess: s, project: project}
}

// Next blocks until the next progress message is available. It returns
// ok=false once the remote side reports the project is no longer busy.
// Network-class poll failures are logged and retried indefinitely; polling is
// inherently resumable. Any other failure ends the stream with an error.
func (st *StatusStream) Next(ctx context.Context) (msg string, ok bool, err error) {
	if st.done {
		return "", false, nil
	}
	for {
		var m string
		if err := st.sess.rpc.Call(ctx, "get_project_busy", []any{st.project}, &m); err != nil {
			if isTransient(err) {
				slog.Warn("Busy poll failed, retrying", logfields.Project(st.project), logfields.Error(err))
				continue
			}
			st.done = true
			return "", false, fmt.Errorf("get_project_busy: %w", err)
		}

		if m == "" {
			sleep(ctx, busyPollInterval)
			if ctx.Err() != nil {
				st.done = true
				return "", false, ctx.Err()
			}
			continue
		}
		if m == busyFinishedSentinel {
			st.done = true
			return "", false, nil
		}
		return m, true, nil
	}
}

// FinalStatus performs the authoritative status check that must follow a
// finished busy stream. It returns a StatusError unless the build succeeded.
func (s *Session) FinalStatus(ctx context.Context, project string) error {
	var prj struct {
		Status string `json:"status"`
	}
	if err := s.rpc.Call(ctx, "get_project", []any{project}, &prj); err != nil {
		return fmt.Errorf("get_project: %w", err)
	}
	if prj.Status != statusBuildDone {
		return &StatusError{Status: prj.Status}
	}
	return nil
}

// WaitBusy consumes the busy stream of a project, logging progress, and then
// checks the final status. Reaching the end of the stream and having
// succeeded are independent facts; both are required.
func (s *Session) WaitBusy(ctx context.Context, project string) error {
	st := s.Watch(project)
	for {
		msg, ok, err := st.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		slog.Info("Remote progress", logfields.Project(project), logfields.Status(msg))
	}
	return s.FinalStatus(ctx, project)
}
