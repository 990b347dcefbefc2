package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/buildctl/internal/runner"
)

// Preprocessor expands and validates a raw configuration document before it
// is pushed to the remote project. Implementations return the path of the
// preprocessed file, which may be the input itself.
type Preprocessor interface {
	Preprocess(ctx context.Context, path, scratchDir string) (string, error)
}

// Passthrough hands the document through unchanged. Used when no preprocess
// command is configured; the remote side still validates on its end.
type Passthrough struct{}

func (Passthrough) Preprocess(_ context.Context, path, _ string) (string, error) {
	return path, nil
}

// CommandPreprocessor shells out to a configured local command, invoked as
// `command... <input> <output>`, and returns the output path.
type CommandPreprocessor struct {
	Run     runner.Runner
	Command []string
}

func (c CommandPreprocessor) Preprocess(ctx context.Context, path, scratchDir string) (string, error) {
	if len(c.Command) == 0 {
		return "", fmt.Errorf("no preprocess command configured")
	}
	out := filepath.Join(scratchDir, "preprocessed.xml")
	args := append(append([]string{}, c.Command[1:]...), path, out)
	if err := c.Run.Run(ctx, c.Command[0], args...); err != nil {
		return "", fmt.Errorf("preprocess %s: %w", path, err)
	}
	return out, nil
}
