// Package compiler implements the compile pipeline: detecting whether an
// executable is a supported compiler, deriving a cache key from the
// preprocessed source, and serving compilations from the cache or the
// real compiler.
package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/posix4e/sccache/internal/runner"
)

// Kind identifies which argument-parsing and preprocessing rules apply
// to a detected compiler.
type Kind string

const (
	// KindGCC covers gcc and g++ style drivers
	KindGCC Kind = "gcc"

	// KindClang covers clang and clang++ style drivers
	KindClang Kind = "clang"

	// KindUnsupported marks executables whose conventions are not
	// understood well enough to cache safely
	KindUnsupported Kind = "unsupported"
)

// Info is the detected identity of an executable.
type Info struct {
	// Path is the resolved absolute path of the executable
	Path string

	// Kind tags the detected compiler family
	Kind Kind

	// Version is the first line of the probe output, kept for logging
	Version string
}

// Supported reports whether the compiler can be cached.
func (i Info) Supported() bool {
	return i.Kind != KindUnsupported
}

// Detector probes executables to classify them, memoizing the result
// per resolved path for its lifetime.
type Detector struct {
	runner runner.Runner

	mu    sync.Mutex
	known map[string]*probeOnce
}

// probeOnce holds one path's classification; concurrent first-sight
// detections share it so the probe runs exactly once.
type probeOnce struct {
	once sync.Once
	info Info
}

// NewDetector creates a detector that probes via the given runner.
func NewDetector(r runner.Runner) *Detector {
	return &Detector{
		runner: r,
		known:  make(map[string]*probeOnce),
	}
}

// Detect resolves the executable and classifies it, probing it at most
// once per path. Probe failures classify the executable as unsupported
// rather than failing the request.
func (d *Detector) Detect(ctx context.Context, exe, cwd string, searchPath []string) Info {
	resolved := resolveExecutable(exe, cwd, searchPath)

	d.mu.Lock()
	p, ok := d.known[resolved]
	if !ok {
		p = &probeOnce{}
		d.known[resolved] = p
	}
	d.mu.Unlock()

	p.once.Do(func() {
		p.info = d.probe(ctx, resolved)
	})

	return p.info
}

// probe runs the executable once and classifies it from its output.
func (d *Detector) probe(ctx context.Context, path string) Info {
	info := Info{Path: path, Kind: KindUnsupported}

	res, err := d.runner.Run(ctx, runner.Command{
		Path: path,
		Args: []string{"--version"},
	})
	if err != nil || !res.Success() {
		return info
	}

	out := string(res.Stdout)
	if line, _, ok := strings.Cut(out, "\n"); ok {
		info.Version = line
	} else {
		info.Version = out
	}

	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "clang"):
		info.Kind = KindClang
	case strings.Contains(lower, "gcc") || strings.Contains(lower, "g++"):
		info.Kind = KindGCC
	}

	return info
}

// resolveExecutable turns the requested executable name into the path
// the daemon will spawn. Names without a path separator are searched
// for in the override directories; everything else resolves against
// the working directory.
func resolveExecutable(exe, cwd string, searchPath []string) string {
	if filepath.IsAbs(exe) {
		return exe
	}

	if strings.ContainsRune(exe, os.PathSeparator) {
		return filepath.Join(cwd, exe)
	}

	for _, dir := range searchPath {
		candidate := filepath.Join(dir, exe)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return exe
}
