package assets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// File names of the packaged support files.
const (
	DockerfileName      = "Dockerfile"
	EntrypointName      = "entrypoint.sh"
	InstrumentationName = "instrumentation.js"
)

// DirName is the subdirectory of the temp dir that receives extracted files.
const DirName = "expo-container"

// DegradedDir is returned as the extraction directory when extraction fails.
const DegradedDir = "."

//go:embed files/Dockerfile files/entrypoint.sh files/instrumentation.js
var embedded embed.FS

// Names lists the support files extracted by default, in extraction order.
var Names = []string{DockerfileName, EntrypointName, InstrumentationName}

// FS returns the embedded support files rooted so that names resolve
// directly (e.g. "Dockerfile").
func FS() fs.FS {
	sub, err := fs.Sub(embedded, "files")
	if err != nil {
		// fs.Sub only fails on an invalid path literal.
		panic(err)
	}
	return sub
}

// Result is the outcome of an extraction.
type Result struct {
	// Dir is the directory holding the extracted files, or DegradedDir.
	Dir string

	// Degraded is true when extraction failed and Dir is the fallback.
	Degraded bool

	// Err is the extraction failure, if any.
	Err error
}

// Path returns the path of name inside the extraction directory.
func (r Result) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// Extractor copies the packaged support files to a temp directory once,
// lazily, and caches the result for its own lifetime.
//
// The zero value is not usable; construct with NewExtractor. An Extractor is
// safe for concurrent use: concurrent first calls block until the single
// extraction finishes and then observe the same Result.
type Extractor struct {
	source  fs.FS
	names   []string
	tempDir string
	exeDir  func() (string, error)
	logger  *slog.Logger

	once   sync.Once
	result Result
	writes int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSource replaces the embedded file system. Used by tests and by callers
// shipping their own support files.
func WithSource(source fs.FS) Option {
	return func(e *Extractor) { e.source = source }
}

// WithNames replaces the list of files to extract.
func WithNames(names ...string) Option {
	return func(e *Extractor) { e.names = names }
}

// WithTempDir sets the parent directory of the extraction directory.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(e *Extractor) { e.tempDir = dir }
}

// WithExecutableDir overrides how the directory of the running executable is
// found. That directory is the fallback location for files missing from the
// embedded source.
func WithExecutableDir(fn func() (string, error)) Option {
	return func(e *Extractor) { e.exeDir = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor returns an Extractor over the embedded support files.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		source: FS(),
		names:  Names,
		exeDir: executableDir,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tempDir == "" {
		e.tempDir = os.TempDir()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Extract writes the support files on the first call and returns the cached
// Result on every call after that.
func (e *Extractor) Extract() Result {
	e.once.Do(func() {
		dir := filepath.Join(e.tempDir, DirName)
		if err := e.extractTo(dir); err != nil {
			e.logger.Warn("asset extraction failed, continuing with degraded path",
				"dir", dir, "error", err)
			e.result = Result{Dir: DegradedDir, Degraded: true, Err: err}
			return
		}
		e.logger.Debug("extracted support files", "dir", dir, "files", len(e.names))
		e.result = Result{Dir: dir}
	})
	return e.result
}

// Writes reports how many files the Extractor has written to disk.
func (e *Extractor) Writes() int {
	e.Extract()
	return e.writes
}

func (e *Extractor) extractTo(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory %s: %w", dir, err)
	}

	for _, name := range e.names {
		data, err := e.read(name)
		if err != nil {
			return err
		}

		mode := os.FileMode(0o644)
		if isScript(name) && runtime.GOOS != "windows" {
			mode = 0o755
		}

		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, data, mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		// WriteFile keeps the mode of an existing file, so set it explicitly.
		if err := os.Chmod(target, mode); err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", target, err)
		}
		e.writes++
	}
	return nil
}

// read loads name from the packaged source, falling back to a file next to
// the running executable.
func (e *Extractor) read(name string) ([]byte, error) {
	data, err := fs.ReadFile(e.source, name)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read packaged %s: %w", name, err)
	}

	exeDir, dirErr := e.exeDir()
	if dirErr != nil {
		return nil, fmt.Errorf("%s is not packaged and executable dir is unknown: %w", name, dirErr)
	}
	fallback := filepath.Join(exeDir, name)
	data, err = os.ReadFile(fallback)
	if err != nil {
		return nil, fmt.Errorf("%s is not packaged and not found at %s: %w", name, fallback, err)
	}
	e.logger.Debug("support file loaded from executable directory", "file", fallback)
	return data, nil
}

func isScript(name string) bool {
	return strings.HasSuffix(name, ".sh")
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}
