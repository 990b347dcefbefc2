// Package workflow sequences remote build-session operations into named
// pipelines. Every step carries a stable exit code; the first failing step
// aborts its pipeline and is reported with that code.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/buildctl/internal/config"
	"git.home.luguber.info/inful/buildctl/internal/control"
	"git.home.luguber.info/inful/buildctl/internal/logfields"
	"git.home.luguber.info/inful/buildctl/internal/retry"
	"git.home.luguber.info/inful/buildctl/internal/runner"
)

// Kind identifies one of the closed set of pipelines.
type Kind int

const (
	Create Kind = iota
	Update
	Build
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Build:
		return "build"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stable per-step exit codes. These are the externally visible outcome of a
// pipeline run; automated callers depend on them staying fixed.
const (
	CodeCreateProject = 152 // create: create remote project
	CodePushConfig    = 153 // create/build: push configuration document
	CodePreprocess    = 154 // create/build: preprocess configuration document
	CodeCreateUsage   = 155 // create: neither config document nor project given
	CodeEnvBuild      = 156 // create: request environment build
	CodeEnvWait       = 157 // create: wait for environment build
	CodeUpdateUsage   = 158 // update: no project given
	CodeEnvUpdate     = 159 // update: request environment update
	CodeBuildCreate   = 160 // build: create remote project (cold start)
	CodeBuildEnvBuild = 161 // build: request environment build
	CodeBuildEnvWait  = 162 // build: wait for environment build
	CodeBuildUsage    = 163 // build: neither config document nor project given
	CodeArchive       = 164 // build: archive local source tree
	CodePushOrig      = 165 // build: push orig file
	CodePushSource    = 166 // build: push source archive
	CodeBuildWait     = 167 // build: wait for package build
	CodeListResults   = 168 // build: list result files (skip-download)
	CodeFetchResults  = 169 // build: download result files
	CodeTransfer      = 170 // any: chunked download transfer failure
)

// Request carries the per-invocation inputs of a pipeline.
type Request struct {
	ConfigPath   string   // raw configuration document; triggers project creation
	Project      string   // existing project handle
	WriteProject string   // write the created handle to this file
	Cross        bool     // cross-compilation
	Profile      string   // build profile for the package build
	CCacheSize   string   // compiler cache size, e.g. "10G"; "0" disables
	OrigFiles    []string // upstream source tarballs to push before building
	SourceDir    string   // local source tree to archive; "." when empty
	SkipDownload bool     // list result files instead of downloading
	Output       string   // result download directory; config default when empty
}

// StepError is the result of a failed pipeline step. The exit code is mapped
// to the process status exactly once, at the CLI boundary.
type StepError struct {
	Pipeline string
	Step     string
	Code     int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Pipeline, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// BuildService is the remote facade the pipelines drive. *control.Session
// implements it.
type BuildService interface {
	CreateProject(ctx context.Context) (string, error)
	SetConfig(ctx context.Context, project, configPath string) error
	PushOrigFile(ctx context.Context, project, origPath string) error
	PushSourceArchive(ctx context.Context, project, archivePath, profile string, cross bool) error
	PushImage(ctx context.Context, project, imagePath string) error
	BuildEnvironment(ctx context.Context, project string, cross bool, ccacheSize string) error
	UpdateEnvironment(ctx context.Context, project string) error
	ListFiles(ctx context.Context, project string, filter control.FileFilter) ([]control.RemoteFile, error)
	FetchFiles(ctx context.Context, project string, filter control.FileFilter, outdir string) ([]control.RemoteFile, error)
	DumpFile(ctx context.Context, project, remoteName, localPath string) error
	RemoveLog(ctx context.Context, project string) error
	WaitBusy(ctx context.Context, project string) error
}

// Dialer opens a session with the given connect retry policy.
type Dialer func(ctx context.Context, pol retry.Policy) (BuildService, error)

// Orchestrator runs pipelines against one remote build service.
type Orchestrator struct {
	cfg  *config.Config
	dial Dialer
	run  runner.Runner
	pre  Preprocessor
}

// Option customizes an Orchestrator; used by tests to substitute fakes.
type Option func(*Orchestrator)

func WithDialer(d Dialer) Option          { return func(o *Orchestrator) { o.dial = d } }
func WithRunner(r runner.Runner) Option   { return func(o *Orchestrator) { o.run = r } }
func WithPreprocessor(p Preprocessor) Option { return func(o *Orchestrator) { o.pre = p } }

// New builds an orchestrator from configuration. By default it dials the
// configured remote endpoint, shells out via runner.Exec and preprocesses
// with the configured command (pass-through when none is set).
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg: cfg,
		dial: func(ctx context.Context, pol retry.Policy) (BuildService, error) {
			return control.Connect(ctx, cfg.Remote, pol)
		},
		run: runner.Exec{},
	}
	if len(cfg.Build.PreprocessCommand) > 0 {
		o.pre = CommandPreprocessor{Run: runner.Exec{}, Command: cfg.Build.PreprocessCommand}
	} else {
		o.pre = Passthrough{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pipelines is the fixed table from pipeline kind to handler, built once.
var pipelines = map[Kind]func(*Orchestrator, context.Context, Request) error{
	Create: (*Orchestrator).runCreate,
	Update: (*Orchestrator).runUpdate,
	Build:  (*Orchestrator).runBuild,
}

// Run executes the named pipeline. A non-nil error is always a *StepError.
func (o *Orchestrator) Run(ctx context.Context, kind Kind, req Request) error {
	h, ok := pipelines[kind]
	if !ok {
		return &StepError{Pipeline: kind.String(), Step: "select pipeline", Code: 1,
			Err: fmt.Errorf("unknown pipeline kind %d", int(kind))}
	}
	return h(o, ctx, req)
}

// step is one ordered pipeline entry: a description, the action, the stable
// failure code and an optional best-effort recovery action.
type step struct {
	desc    string
	code    int
	run     func(context.Context) error
	recover func(context.Context, error)
}

// runSteps executes steps in order. The first failure runs the step's
// recovery action and aborts the rest of the pipeline.
func runSteps(ctx context.Context, pipeline string, steps []step) error {
	for _, st := range steps {
		slog.Info("Running step", logfields.Pipeline(pipeline), logfields.Step(st.desc))
		err := st.run(ctx)
		if err == nil {
			continue
		}
		if st.recover != nil {
			st.recover(ctx, err)
		}
		code := st.code
		var terr *control.TransferError
		if errors.As(err, &terr) {
			code = CodeTransfer
		}
		return &StepError{Pipeline: pipeline, Step: st.desc, Code: code, Err: err}
	}
	return nil
}

// normalPolicy is the connect retry budget for warm remotes.
func (o *Orchestrator) normalPolicy() retry.Policy {
	return retry.FromConfig(o.cfg.Retry, o.cfg.Remote.Retries)
}

// createPolicy is the extended budget used when project creation may hit a
// cold remote start.
func (o *Orchestrator) createPolicy() retry.Policy {
	return retry.FromConfig(o.cfg.Retry, o.cfg.Build.CreateRetries)
}
