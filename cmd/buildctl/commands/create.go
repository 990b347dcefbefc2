package commands

import "git.home.luguber.info/inful/buildctl/internal/workflow"

// CreateCmd implements the 'create' command: set up a fresh pbuilder
// environment from a configuration document, or rebuild it for an existing
// project, and wait for it to finish.
type CreateCmd struct {
	Xmlfile      string `short:"x" help:"Raw configuration document to create the project from" type:"existingfile"`
	Project      string `short:"p" help:"Existing project handle to reuse"`
	WriteProject string `help:"Write the created project handle to this file" type:"path"`
	Cross        bool   `help:"Enable cross-compilation for the environment"`
	CcacheSize   string `name:"ccache-size" help:"Compiler cache size (e.g. 10G)"`
	NoCcache     bool   `name:"no-ccache" help:"Disable the compiler cache"`
}

func (c *CreateCmd) Run(g *Globals) error {
	ccache := c.CcacheSize
	if c.NoCcache {
		ccache = "0"
	}
	return runPipeline(g, workflow.Create, workflow.Request{
		ConfigPath:   c.Xmlfile,
		Project:      c.Project,
		WriteProject: c.WriteProject,
		Cross:        c.Cross,
		CCacheSize:   ccache,
	})
}
