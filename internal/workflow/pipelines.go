package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/buildctl/internal/control"
	"git.home.luguber.info/inful/buildctl/internal/logfields"
	"git.home.luguber.info/inful/buildctl/internal/retry"
	"git.home.luguber.info/inful/buildctl/internal/workspace"
)

// errUsage marks a missing required argument; it is reported before any
// remote call is attempted.
var errUsage = errors.New("either a configuration document or an existing project handle is required")

// run holds the mutable state one pipeline invocation threads through its
// steps: the session is dialed lazily by the first step that needs it, so a
// connect failure surfaces under that step's code.
type run struct {
	o      *Orchestrator
	req    Request
	svc    BuildService
	handle string
	ws     *workspace.Workspace
}

// ensure dials the remote service on first use.
func (r *run) ensure(ctx context.Context, pol retry.Policy) error {
	if r.svc != nil {
		return nil
	}
	svc, err := r.o.dial(ctx, pol)
	if err != nil {
		return err
	}
	r.svc = svc
	return nil
}

// writeProject records the created handle for later invocations.
func (r *run) writeProject() error {
	if r.req.WriteProject == "" {
		return nil
	}
	if err := os.WriteFile(r.req.WriteProject, []byte(r.handle), 0o644); err != nil {
		return fmt.Errorf("write project handle: %w", err)
	}
	return nil
}

// dumpLog fetches the remote build log for operator diagnosis. Best effort:
// its own failure is reported but never masks the original step failure.
func (r *run) dumpLog(ctx context.Context, cause error) {
	if r.svc == nil || r.handle == "" {
		return
	}
	outdir := r.outdir()
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		slog.Error("Cannot create directory for remote build log", logfields.Path(outdir), logfields.Error(err))
		return
	}
	dst := filepath.Join(outdir, "log.txt")
	if err := r.svc.DumpFile(ctx, r.handle, "log.txt", dst); err != nil {
		slog.Error("Failed to fetch remote build log", logfields.Project(r.handle), logfields.Error(err))
		return
	}
	slog.Info("Fetched remote build log", logfields.Project(r.handle), logfields.Path(dst), logfields.Error(cause))
}

func (r *run) outdir() string {
	if r.req.Output != "" {
		return r.req.Output
	}
	return r.o.cfg.Build.Output
}

func (r *run) ccacheSize() string {
	if r.req.CCacheSize != "" {
		return r.req.CCacheSize
	}
	return r.o.cfg.Build.CCacheSize
}

func (r *run) sourceDir() string {
	if r.req.SourceDir != "" {
		return r.req.SourceDir
	}
	return "."
}

// creationSteps is the shared "preprocess, create project, push configuration"
// sub-sequence of the create and build pipelines. createCode differs between
// the two; pol sets the connect retry budget.
func (r *run) creationSteps(createCode int, pol retry.Policy) []step {
	var preprocessed string
	return []step{
		{desc: "preprocess configuration", code: CodePreprocess, run: func(ctx context.Context) error {
			p, err := r.o.pre.Preprocess(ctx, r.req.ConfigPath, r.ws.Path())
			if err != nil {
				return err
			}
			preprocessed = p
			return nil
		}},
		{desc: "create remote project", code: createCode, run: func(ctx context.Context) error {
			if err := r.ensure(ctx, pol); err != nil {
				return err
			}
			handle, err := r.svc.CreateProject(ctx)
			if err != nil {
				return err
			}
			r.handle = handle
			return r.writeProject()
		}},
		{desc: "push configuration", code: CodePushConfig, run: func(ctx context.Context) error {
			return r.svc.SetConfig(ctx, r.handle, preprocessed)
		}},
	}
}

func (o *Orchestrator) runCreate(ctx context.Context, req Request) error {
	const pl = "create"
	if req.ConfigPath == "" && req.Project == "" {
		return &StepError{Pipeline: pl, Step: "validate arguments", Code: CodeCreateUsage, Err: errUsage}
	}

	r := &run{o: o, req: req, handle: req.Project}

	var steps []step
	if req.ConfigPath != "" {
		// Scratch space is only needed for the preprocessed document.
		r.ws = workspace.New("")
		if err := r.ws.Create(); err != nil {
			return &StepError{Pipeline: pl, Step: "preprocess configuration", Code: CodePreprocess, Err: err}
		}
		defer func() {
			if err := r.ws.Cleanup(); err != nil {
				slog.Warn("Failed to cleanup workspace", logfields.Error(err))
			}
		}()
		steps = r.creationSteps(CodeCreateProject, o.normalPolicy())
	}
	steps = append(steps,
		step{desc: "request environment build", code: CodeEnvBuild, run: func(ctx context.Context) error {
			if err := r.ensure(ctx, o.normalPolicy()); err != nil {
				return err
			}
			return r.svc.BuildEnvironment(ctx, r.handle, req.Cross, r.ccacheSize())
		}},
		step{desc: "wait for environment build", code: CodeEnvWait, run: func(ctx context.Context) error {
			return r.svc.WaitBusy(ctx, r.handle)
		}},
	)

	if err := runSteps(ctx, pl, steps); err != nil {
		return err
	}
	slog.Info("Building pbuilder environment finished", logfields.Project(r.handle))
	return nil
}

func (o *Orchestrator) runUpdate(ctx context.Context, req Request) error {
	const pl = "update"
	if req.Project == "" {
		return &StepError{Pipeline: pl, Step: "validate arguments", Code: CodeUpdateUsage,
			Err: errors.New("an existing project handle is required")}
	}

	r := &run{o: o, req: req, handle: req.Project}
	steps := []step{
		{desc: "request environment update", code: CodeEnvUpdate, run: func(ctx context.Context) error {
			if err := r.ensure(ctx, o.normalPolicy()); err != nil {
				return err
			}
			return r.svc.UpdateEnvironment(ctx, r.handle)
		}},
	}

	if err := runSteps(ctx, pl, steps); err != nil {
		return err
	}
	slog.Info("Updating pbuilder environment requested", logfields.Project(r.handle))
	return nil
}

func (o *Orchestrator) runBuild(ctx context.Context, req Request) error {
	const pl = "build"
	if req.ConfigPath == "" && req.Project == "" {
		return &StepError{Pipeline: pl, Step: "validate arguments", Code: CodeBuildUsage, Err: errUsage}
	}

	r := &run{o: o, req: req, handle: req.Project, ws: workspace.New("")}
	if err := r.ws.Create(); err != nil {
		return &StepError{Pipeline: pl, Step: "archive local source tree", Code: CodeArchive, Err: err}
	}
	defer func() {
		if err := r.ws.Cleanup(); err != nil {
			slog.Warn("Failed to cleanup workspace", logfields.Error(err))
		}
	}()

	archive := r.ws.File("pdebuild.tar.gz")

	var steps []step
	if req.ConfigPath != "" {
		// Cold remote start is possible here; creation gets the extended
		// connect budget, then the environment is built before the package.
		steps = r.creationSteps(CodeBuildCreate, o.createPolicy())
		steps = append(steps,
			step{desc: "request environment build", code: CodeBuildEnvBuild, run: func(ctx context.Context) error {
				return r.svc.BuildEnvironment(ctx, r.handle, req.Cross, r.ccacheSize())
			}},
			step{desc: "wait for environment build", code: CodeBuildEnvWait, run: func(ctx context.Context) error {
				return r.svc.WaitBusy(ctx, r.handle)
			}},
		)
	} else {
		// Best effort: the closure always returns nil, so this step cannot
		// fail and no exit code is ever reported for it.
		steps = append(steps, step{desc: "clear stale remote log", run: func(ctx context.Context) error {
			if err := r.ensure(ctx, o.normalPolicy()); err != nil {
				slog.Warn("Could not clear stale remote log", logfields.Project(r.handle), logfields.Error(err))
				return nil
			}
			if err := r.svc.RemoveLog(ctx, r.handle); err != nil {
				slog.Warn("Could not clear stale remote log", logfields.Project(r.handle), logfields.Error(err))
			}
			return nil
		}})
	}

	steps = append(steps,
		step{desc: "archive local source tree", code: CodeArchive, run: func(ctx context.Context) error {
			return o.run.Run(ctx, "tar", "cfz", archive, "-C", r.sourceDir(), ".")
		}},
	)
	for _, orig := range req.OrigFiles {
		steps = append(steps, step{desc: fmt.Sprintf("push orig file %s", filepath.Base(orig)), code: CodePushOrig,
			run: func(ctx context.Context) error {
				if err := r.ensure(ctx, o.normalPolicy()); err != nil {
					return err
				}
				return r.svc.PushOrigFile(ctx, r.handle, orig)
			}})
	}
	steps = append(steps,
		step{desc: "push source archive", code: CodePushSource, run: func(ctx context.Context) error {
			if err := r.ensure(ctx, o.normalPolicy()); err != nil {
				return err
			}
			return r.svc.PushSourceArchive(ctx, r.handle, archive, req.Profile, req.Cross)
		}},
		step{desc: "wait for package build", code: CodeBuildWait,
			run: func(ctx context.Context) error {
				return r.svc.WaitBusy(ctx, r.handle)
			},
			recover: r.dumpLog,
		},
	)

	if req.SkipDownload {
		steps = append(steps, step{desc: "list result files", code: CodeListResults,
			run: func(ctx context.Context) error {
				files, err := r.svc.ListFiles(ctx, r.handle, control.PbuilderFiles())
				if err != nil {
					return err
				}
				for _, f := range files {
					slog.Info("Result file available", logfields.Project(r.handle), logfields.File(f.Name))
				}
				return nil
			},
			recover: r.dumpLog,
		})
	} else {
		steps = append(steps, step{desc: "download result files", code: CodeFetchResults,
			run: func(ctx context.Context) error {
				files, err := r.svc.FetchFiles(ctx, r.handle, control.PbuilderFiles(), r.outdir())
				if err != nil {
					return err
				}
				slog.Info("Downloaded result files", logfields.Project(r.handle),
					slog.Int("count", len(files)), logfields.Path(r.outdir()))
				return nil
			},
			recover: r.dumpLog,
		})
	}

	if err := runSteps(ctx, pl, steps); err != nil {
		return err
	}
	slog.Info("Package build finished", logfields.Project(r.handle))
	return nil
}
