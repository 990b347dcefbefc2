package commands

import "git.home.luguber.info/inful/buildctl/internal/workflow"

// BuildCmd implements the 'build' command: pack the local source tree, push
// it (plus any orig tarballs) into the remote pbuilder and retrieve the
// resulting artifacts.
type BuildCmd struct {
	Xmlfile      string   `short:"x" help:"Raw configuration document; creates a fresh project first" type:"existingfile"`
	Project      string   `short:"p" help:"Existing project handle to build in"`
	WriteProject string   `help:"Write the created project handle to this file" type:"path"`
	Cross        bool     `help:"Enable cross-compilation"`
	Profile      string   `help:"Build profile(s) to activate, comma separated"`
	Orig         []string `help:"Upstream orig tarball to push before building (repeatable)" type:"existingfile"`
	SkipDownload bool     `name:"skip-download" help:"List result files instead of downloading them"`
	Output       string   `short:"o" help:"Directory for downloaded results (default: parent of the working directory)" type:"path"`
	Source       string   `short:"s" help:"Local source tree to build (default: working directory)" type:"existingdir"`
	CcacheSize   string   `name:"ccache-size" help:"Compiler cache size for a freshly created environment (e.g. 10G)"`
	NoCcache     bool     `name:"no-ccache" help:"Disable the compiler cache for a freshly created environment"`
}

func (b *BuildCmd) Run(g *Globals) error {
	ccache := b.CcacheSize
	if b.NoCcache {
		ccache = "0"
	}
	return runPipeline(g, workflow.Build, workflow.Request{
		ConfigPath:   b.Xmlfile,
		Project:      b.Project,
		WriteProject: b.WriteProject,
		Cross:        b.Cross,
		Profile:      b.Profile,
		CCacheSize:   ccache,
		OrigFiles:    b.Orig,
		SkipDownload: b.SkipDownload,
		Output:       b.Output,
		SourceDir:    b.Source,
	})
}
