package buildctx

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/mmr-tortoise/expo-container/internal/assets"
)

// DirName is the subdirectory of the temp dir holding merged contexts.
const DirName = "expo-container-contexts"

// Result is the outcome of Prepare.
type Result struct {
	// Dir is the build context to use: the merged copy, or the consumer's
	// directory when no merge happened or the merge failed.
	Dir string

	// Merged is true when Dir is a fresh copy owned by this Result.
	Merged bool

	// Degraded is true when the merge failed and Dir fell back to the
	// consumer's directory.
	Degraded bool

	// Err is the merge failure, if any.
	Err error

	cleanup func() error
}

// Cleanup removes the merged directory. It is a no-op when no merge
// happened and safe to call more than once.
func (r Result) Cleanup() error {
	if r.cleanup == nil {
		return nil
	}
	return r.cleanup()
}

// Merger builds merged build contexts. The zero value is not usable;
// construct with NewMerger. A Merger is safe for concurrent use.
type Merger struct {
	root     string
	required string
	optional []string
	logger   *slog.Logger

	mu      sync.Mutex
	created map[string]struct{}
}

// Option configures a Merger.
type Option func(*Merger)

// WithRoot sets the directory that receives merged contexts.
// Defaults to <os.TempDir()>/expo-container-contexts.
func WithRoot(dir string) Option {
	return func(m *Merger) { m.root = dir }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) { m.logger = logger }
}

// NewMerger returns a Merger that requires entrypoint.sh in the build
// context and adds instrumentation.js when available.
func NewMerger(opts ...Option) *Merger {
	m := &Merger{
		required: assets.EntrypointName,
		optional: []string{assets.InstrumentationName},
		created:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.root == "" {
		m.root = filepath.Join(os.TempDir(), DirName)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Prepare returns the effective build context for consumerDir.
//
// If consumerDir already contains entrypoint.sh it is returned unchanged and
// nothing is copied. Otherwise consumerDir is copied to a new directory,
// the support files from extractedDir are added, and the copy is returned.
// Errors never propagate: the Result falls back to consumerDir with
// Degraded set.
func (m *Merger) Prepare(consumerDir, extractedDir string) Result {
	if _, err := os.Stat(filepath.Join(consumerDir, m.required)); err == nil {
		m.logger.Debug("build context already has support file",
			"dir", consumerDir, "file", m.required)
		return Result{Dir: consumerDir}
	}

	dir, err := m.merge(consumerDir, extractedDir)
	if err != nil {
		m.logger.Warn("build context merge failed, using original directory",
			"dir", consumerDir, "error", err)
		return Result{Dir: consumerDir, Degraded: true, Err: err}
	}

	m.logger.Debug("merged build context", "source", consumerDir, "dir", dir)
	return Result{
		Dir:     dir,
		Merged:  true,
		cleanup: func() error { return m.remove(dir) },
	}
}

func (m *Merger) merge(consumerDir, extractedDir string) (dir string, err error) {
	dir = filepath.Join(m.root, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create merged context %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	if err := CopyDir(consumerDir, dir); err != nil {
		return "", err
	}

	scriptMode := os.FileMode(0o644)
	if runtime.GOOS != "windows" {
		scriptMode = 0o755
	}
	if err := CopyFile(filepath.Join(extractedDir, m.required), filepath.Join(dir, m.required), scriptMode); err != nil {
		return "", err
	}

	for _, name := range m.optional {
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			// The consumer ships its own copy.
			continue
		}
		src := filepath.Join(extractedDir, name)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := CopyFile(src, dst, 0o644); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	m.created[dir] = struct{}{}
	m.mu.Unlock()
	return dir, nil
}

func (m *Merger) remove(dir string) error {
	m.mu.Lock()
	_, ok := m.created[dir]
	delete(m.created, dir)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove merged context %s: %w", dir, err)
	}
	return nil
}

// Cleanup removes every merged directory this Merger created that has not
// been cleaned up yet.
func (m *Merger) Cleanup() error {
	m.mu.Lock()
	dirs := make([]string, 0, len(m.created))
	for dir := range m.created {
		dirs = append(dirs, dir)
	}
	m.mu.Unlock()

	var errs []error
	for _, dir := range dirs {
		if err := m.remove(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
