package commands

import (
	"fmt"

	"git.home.luguber.info/inful/buildctl/internal/version"
)

// VersionCmd prints the client version and build metadata.
type VersionCmd struct{}

func (v *VersionCmd) Run(g *Globals) error {
	fmt.Printf("buildctl %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	return nil
}
