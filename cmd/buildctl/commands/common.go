// Package commands implements the buildctl subcommands. Each command binds
// its flags into a workflow request and hands it to the orchestrator; exit
// status mapping happens in main.
package commands

import (
	"context"

	"git.home.luguber.info/inful/buildctl/internal/config"
	"git.home.luguber.info/inful/buildctl/internal/workflow"
)

// Globals are the flags shared by all subcommands.
type Globals struct {
	Config  string `short:"c" help:"Configuration file path" default:"buildctl.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`
}

// runPipeline loads configuration and executes one workflow pipeline.
func runPipeline(g *Globals, kind workflow.Kind, req workflow.Request) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	o := workflow.New(cfg)
	return o.Run(context.Background(), kind, req)
}
