package commands

import "git.home.luguber.info/inful/buildctl/internal/workflow"

// UpdateCmd implements the 'update' command: request a pbuilder environment
// refresh for an existing project. It returns as soon as the request is
// accepted. A missing project handle is reported by the pipeline with its
// stable usage exit code, not by the flag parser.
type UpdateCmd struct {
	Project string `short:"p" help:"Existing project handle"`
}

func (u *UpdateCmd) Run(g *Globals) error {
	return runPipeline(g, workflow.Update, workflow.Request{Project: u.Project})
}
