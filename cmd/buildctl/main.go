package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/buildctl/cmd/buildctl/commands"
	"git.home.luguber.info/inful/buildctl/internal/logfields"
	"git.home.luguber.info/inful/buildctl/internal/workflow"
)

var cli struct {
	commands.Globals

	Create commands.CreateCmd `cmd:"" help:"Create a pbuilder environment on the remote build service"`
	Update commands.UpdateCmd `cmd:"" help:"Update an existing pbuilder environment"`
	Build  commands.BuildCmd  `cmd:"" help:"Build a package from the local source tree inside the remote pbuilder"`

	Version commands.VersionCmd `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("buildctl"),
		kong.Description("Drive a remote pbuilder build service: create and update build environments and build packages in them."),
		kong.UsageOnError(),
	)

	logLevel := slog.LevelInfo
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	err := ctx.Run(&cli.Globals)
	if err == nil {
		return
	}

	// Map a failed pipeline step to its fixed process exit status, exactly
	// once and only here.
	var stepErr *workflow.StepError
	if errors.As(err, &stepErr) {
		slog.Error("Pipeline step failed",
			logfields.Pipeline(stepErr.Pipeline),
			logfields.Step(stepErr.Step),
			logfields.ExitCode(stepErr.Code),
			logfields.Error(stepErr.Err))
		os.Exit(stepErr.Code)
	}
	slog.Error("Command failed", logfields.Error(err))
	os.Exit(1)
}
