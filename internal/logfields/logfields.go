package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyPipeline = "pipeline"
	KeyStep     = "step"
	KeyExitCode = "exit_code"
	KeyProject  = "project"
	KeyHost     = "host"
	KeyMethod   = "method"
	KeyFile     = "file"
	KeyChunk    = "chunk"
	KeyAttempt  = "attempt"
	KeyPath     = "path"
	KeyStatus   = "status"
	KeyError    = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Pipeline(p string) slog.Attr { return slog.String(KeyPipeline, p) }
func Step(s string) slog.Attr     { return slog.String(KeyStep, s) }
func ExitCode(c int) slog.Attr    { return slog.Int(KeyExitCode, c) }
func Project(p string) slog.Attr  { return slog.String(KeyProject, p) }
func Host(h string) slog.Attr     { return slog.String(KeyHost, h) }
func Method(m string) slog.Attr   { return slog.String(KeyMethod, m) }
func File(f string) slog.Attr     { return slog.String(KeyFile, f) }
func Chunk(i int) slog.Attr       { return slog.Int(KeyChunk, i) }
func Attempt(a int) slog.Attr     { return slog.Int(KeyAttempt, a) }
func Path(p string) slog.Attr     { return slog.String(KeyPath, p) }
func Status(s string) slog.Attr   { return slog.String(KeyStatus, s) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
