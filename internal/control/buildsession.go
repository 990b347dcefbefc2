package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/buildctl/internal/logfields"
)

// RemoteFile is one entry of a project's result file listing.
type RemoteFile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// FileFilter selects remote files by exact name prefix or shell-style
// wildcard. The zero value matches everything.
type FileFilter struct {
	Prefixes []string
	Wildcard string
}

// PbuilderFiles matches only the pbuilder result artifacts.
func PbuilderFiles() FileFilter {
	return FileFilter{Prefixes: []string{"pbuilder", "pbuilder_cross"}}
}

// Match reports whether a remote file name passes the filter.
func (f FileFilter) Match(name string) bool {
	if len(f.Prefixes) > 0 {
		hit := false
		for _, p := range f.Prefixes {
			if strings.HasPrefix(name, p) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if f.Wildcard != "" {
		ok, err := path.Match(f.Wildcard, name)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// CreateProject allocates a fresh remote build directory and returns its
// opaque handle.
func (s *Session) CreateProject(ctx context.Context) (string, error) {
	var handle string
	if err := s.rpc.Call(ctx, "create_project", nil, &handle); err != nil {
		return "", fmt.Errorf("create_project: %w", err)
	}
	handle = strings.TrimSpace(handle)
	slog.Info("Created remote project", logfields.Project(handle))
	return handle, nil
}

// SetConfig pushes the configuration document into the project via the
// acknowledged, flow-controlled upload.
func (s *Session) SetConfig(ctx context.Context, project, configPath string) error {
	return s.uploadAcknowledged(ctx, project, "source.xml", configPath)
}

// PushOrigFile uploads an upstream source tarball alongside the build recipe.
func (s *Session) PushOrigFile(ctx context.Context, project, origPath string) error {
	name := filepath.Base(origPath)
	if err := s.rpc.Call(ctx, "start_upload_orig", []any{project, name}, nil); err != nil {
		return fmt.Errorf("start_upload_orig: %w", err)
	}
	err := uploadBlocks(origPath, func(data string) error {
		return s.rpc.Call(ctx, "append_upload_orig", []any{project, data}, nil)
	})
	if err != nil {
		return fmt.Errorf("append_upload_orig %s: %w", name, err)
	}
	if err := s.rpc.Call(ctx, "finish_upload_orig", []any{project}, nil); err != nil {
		return fmt.Errorf("finish_upload_orig: %w", err)
	}
	return nil
}

// PushSourceArchive uploads the packed source tree as the thing to be built,
// with an optional build profile and cross-compilation.
func (s *Session) PushSourceArchive(ctx context.Context, project, archivePath, profile string, cross bool) error {
	if err := s.rpc.Call(ctx, "start_pdebuild", []any{project}, nil); err != nil {
		return fmt.Errorf("start_pdebuild: %w", err)
	}
	err := uploadBlocks(archivePath, func(data string) error {
		return s.rpc.Call(ctx, "append_pdebuild", []any{project, data}, nil)
	})
	if err != nil {
		return fmt.Errorf("append_pdebuild: %w", err)
	}
	if err := s.rpc.Call(ctx, "finish_pdebuild", []any{project, profile, cross}, nil); err != nil {
		return fmt.Errorf("finish_pdebuild: %w", err)
	}
	return nil
}

// PushImage uploads a disk image into the project.
func (s *Session) PushImage(ctx context.Context, project, imagePath string) error {
	if err := s.rpc.Call(ctx, "start_cdrom", []any{project}, nil); err != nil {
		return fmt.Errorf("start_cdrom: %w", err)
	}
	err := uploadBlocks(imagePath, func(data string) error {
		return s.rpc.Call(ctx, "append_cdrom", []any{project, data}, nil)
	})
	if err != nil {
		return fmt.Errorf("append_cdrom: %w", err)
	}
	if err := s.rpc.Call(ctx, "finish_cdrom", []any{project}, nil); err != nil {
		return fmt.Errorf("finish_cdrom: %w", err)
	}
	return nil
}

// BuildEnvironment asks the remote side to build the project's package-build
// sandbox. ccacheSize of "0" disables the compiler cache.
func (s *Session) BuildEnvironment(ctx context.Context, project string, cross bool, ccacheSize string) error {
	if err := s.rpc.Call(ctx, "build_pbuilder", []any{project, cross, ccacheSize}, nil); err != nil {
		return fmt.Errorf("build_pbuilder: %w", err)
	}
	return nil
}

// UpdateEnvironment requests a sandbox refresh. It returns as soon as the
// request is accepted; callers do not wait on it.
func (s *Session) UpdateEnvironment(ctx context.Context, project string) error {
	if err := s.rpc.Call(ctx, "update_pbuilder", []any{project}, nil); err != nil {
		return fmt.Errorf("update_pbuilder: %w", err)
	}
	return nil
}

// ListFiles returns the project's result file listing, filtered.
func (s *Session) ListFiles(ctx context.Context, project string, filter FileFilter) ([]RemoteFile, error) {
	var files []RemoteFile
	if err := s.rpc.Call(ctx, "get_files", []any{project}, &files); err != nil {
		return nil, fmt.Errorf("get_files: %w", err)
	}
	result := make([]RemoteFile, 0, len(files))
	for _, f := range files {
		if filter.Match(f.Name) {
			result = append(result, f)
		}
	}
	return result, nil
}

// FetchFiles downloads the filtered result files into outdir, creating it if
// absent. It returns the listing of the files it fetched.
func (s *Session) FetchFiles(ctx context.Context, project string, filter FileFilter, outdir string) ([]RemoteFile, error) {
	files, err := s.ListFiles(ctx, project, filter)
	if err != nil {
		return nil, err
	}
	dst, err := filepath.Abs(outdir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dst, err)
	}
	for _, f := range files {
		local := filepath.Join(dst, filepath.Base(f.Name))
		slog.Info("Downloading result file", logfields.Project(project), logfields.File(f.Name), logfields.Path(local))
		if err := s.downloadFile(ctx, project, f.Name, local); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// DumpFile downloads a single named remote file to a local path.
func (s *Session) DumpFile(ctx context.Context, project, remoteName, localPath string) error {
	return s.downloadFile(ctx, project, remoteName, localPath)
}

// RemoveLog clears the project's stale build log.
func (s *Session) RemoveLog(ctx context.Context, project string) error {
	if err := s.rpc.Call(ctx, "rm_log", []any{project}, nil); err != nil {
		return fmt.Errorf("rm_log: %w", err)
	}
	return nil
}
