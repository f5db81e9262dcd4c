package docker

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/go-archive"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/moby/term"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

// InjectedDockerfileName is the name under which a Dockerfile that lives
// outside the build context is added to the context archive.
const InjectedDockerfileName = ".expo-container.Dockerfile"

// BuildImage sends req.ContextDir to the daemon and builds req.Tag,
// streaming progress to req.Output.
//
// req.Dockerfile may live outside the context directory; in that case it
// is injected into the archive as InjectedDockerfileName. Paths matched by
// the context's .dockerignore are not sent.
func (e *Engine) BuildImage(ctx context.Context, req model.BuildRequest) error {
	body, dockerfile, err := buildContextArchive(req.ContextDir, req.Dockerfile)
	if err != nil {
		return model.WrapCLIError(model.ExitBuildFailed, "failed to package build context", err)
	}
	defer body.Close()

	labels := make(map[string]string, len(req.Labels)+1)
	maps.Copy(labels, req.Labels)
	labels[LabelManagedBy] = ManagedByValue

	args := make(map[string]*string, len(req.BuildArgs))
	for k, v := range req.BuildArgs {
		args[k] = &v
	}

	e.logger.Debug("sending build context", "context", req.ContextDir, "dockerfile", dockerfile, "tag", req.Tag)
	resp, err := e.api.ImageBuild(ctx, body, build.ImageBuildOptions{
		Tags:        []string{req.Tag},
		Dockerfile:  dockerfile,
		BuildArgs:   args,
		Labels:      labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitBuildFailed, fmt.Sprintf("image build request for %s failed", req.Tag), err)
	}
	defer resp.Body.Close()

	out := req.Output
	if out == nil {
		out = io.Discard
	}
	fd, isTerm := term.GetFdInfo(out)
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, fd, isTerm, nil); err != nil {
		return model.WrapCLIError(model.ExitBuildFailed, fmt.Sprintf("image build for %s failed", req.Tag), err)
	}
	return nil
}

// buildContextArchive tars contextDir and returns the archive together with
// the Dockerfile path the daemon should use inside it.
func buildContextArchive(contextDir, dockerfile string) (io.ReadCloser, string, error) {
	absContext, err := filepath.Abs(contextDir)
	if err != nil {
		return nil, "", err
	}
	if fi, err := os.Stat(absContext); err != nil {
		return nil, "", err
	} else if !fi.IsDir() {
		return nil, "", fmt.Errorf("build context %s is not a directory", absContext)
	}

	if dockerfile == "" {
		dockerfile = filepath.Join(absContext, "Dockerfile")
	}
	absDockerfile, err := filepath.Abs(dockerfile)
	if err != nil {
		return nil, "", err
	}

	excludes, err := readDockerignore(absContext)
	if err != nil {
		return nil, "", err
	}

	rel, err := filepath.Rel(absContext, absDockerfile)
	if err == nil && filepath.IsLocal(rel) {
		rc, err := archive.TarWithOptions(absContext, &archive.TarOptions{ExcludePatterns: excludes})
		if err != nil {
			return nil, "", err
		}
		return rc, filepath.ToSlash(rel), nil
	}

	content, err := os.ReadFile(absDockerfile)
	if err != nil {
		return nil, "", fmt.Errorf("read Dockerfile: %w", err)
	}
	rc, err := archive.TarWithOptions(absContext, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return nil, "", err
	}
	wrapped := archive.ReplaceFileTarWrapper(rc, map[string]archive.TarModifierFunc{
		InjectedDockerfileName: func(_ string, _ *tar.Header, _ io.Reader) (*tar.Header, []byte, error) {
			return &tar.Header{
				Name:     InjectedDockerfileName,
				Mode:     0o644,
				Typeflag: tar.TypeReg,
			}, content, nil
		},
	})
	return wrapped, InjectedDockerfileName, nil
}

// readDockerignore returns the patterns in <dir>/.dockerignore, or nil when
// the file does not exist.
func readDockerignore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("parse .dockerignore: %w", err)
	}
	return patterns, nil
}
