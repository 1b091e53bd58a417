package compiler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/posix4e/sccache/internal/cache"
	"github.com/posix4e/sccache/internal/runner"
)

// Request is one compiler invocation submitted to the pipeline.
type Request struct {
	// Exe is the compiler executable as the caller named it
	Exe string

	// Args is the full argument list, in order
	Args []string

	// Cwd is the caller's working directory
	Cwd string

	// SearchPath optionally overrides where bare executable names are
	// resolved
	SearchPath []string
}

// Outcome says how a request was ultimately served, for statistics.
type Outcome int

const (
	// OutcomeCacheHit replayed a stored result
	OutcomeCacheHit Outcome = iota

	// OutcomeCacheMiss compiled for real and stored the result
	OutcomeCacheMiss

	// OutcomeCompileFailed relayed a failing preprocess or compile
	OutcomeCompileFailed

	// OutcomeUnsupported executed an unrecognized compiler directly
	OutcomeUnsupported

	// OutcomeNonCompilation executed a supported compiler that was not
	// compiling (no -c), e.g. a link step
	OutcomeNonCompilation

	// OutcomeNotCacheable executed a compile whose arguments cannot be
	// fingerprinted safely
	OutcomeNotCacheable

	// OutcomeError hit a pipeline failure (process launch, missing
	// output file); reported to the caller, never cached
	OutcomeError
)

// Result is what the pipeline relays back for a request. ExitCode
// mirrors exactly what the real compiler returned, or -1 for pipeline
// errors, so build tooling inspecting exit status sees no difference.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Outcome  Outcome
}

// Pipeline serves compile requests from the cache or the real compiler.
type Pipeline struct {
	runner   runner.Runner
	cache    *cache.Cache
	detector *Detector
	logger   *slog.Logger
}

// NewPipeline wires a pipeline to its executor and store.
func NewPipeline(r runner.Runner, c *cache.Cache, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		runner:   r,
		cache:    c,
		detector: NewDetector(r),
		logger:   logger,
	}
}

// Compile runs the request through detection, the cache, and the
// compiler, and returns the result to relay to the caller.
func (p *Pipeline) Compile(ctx context.Context, req Request) Result {
	info := p.detector.Detect(ctx, req.Exe, req.Cwd, req.SearchPath)

	if !info.Supported() {
		p.logger.Debug("unsupported compiler, executing directly", slog.String("exe", info.Path))
		return p.runDirect(ctx, info.Path, req, OutcomeUnsupported)
	}

	parsed, outcome := parseArguments(req.Args)
	switch outcome {
	case parseNotCompilation:
		return p.runDirect(ctx, info.Path, req, OutcomeNonCompilation)
	case parseNotCacheable:
		return p.runDirect(ctx, info.Path, req, OutcomeNotCacheable)
	}

	pp, err := p.runner.Run(ctx, runner.Command{
		Path: info.Path,
		Args: preprocessArgs(req.Args),
		Dir:  req.Cwd,
	})
	if err != nil {
		return launchError(info.Path, err)
	}

	if !pp.Success() {
		// Preprocess failure is a compile failure; the cache is never
		// consulted.
		return Result{
			ExitCode: pp.ExitCode,
			Stdout:   pp.Stdout,
			Stderr:   pp.Stderr,
			Outcome:  OutcomeCompileFailed,
		}
	}

	key := cacheKey(info, req.Args, pp.Stdout)
	outputPath := parsed.output
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(req.Cwd, outputPath)
	}

	entry, hit, err := p.cache.Get(key)
	if err != nil {
		p.logger.Warn("cache read failed, treating as miss", slog.String("key", key), slog.Any("error", err))
	}

	if hit {
		if err := atomic.WriteFile(outputPath, bytes.NewReader(entry.Object)); err != nil {
			return Result{
				ExitCode: -1,
				Stderr:   []byte(fmt.Sprintf("sccache: failed to write cached object to %s: %v\n", outputPath, err)),
				Outcome:  OutcomeError,
			}
		}

		p.logger.Debug("cache hit", slog.String("key", key), slog.String("output", outputPath))

		return Result{
			ExitCode: entry.ExitCode,
			Stdout:   entry.Stdout,
			Stderr:   entry.Stderr,
			Outcome:  OutcomeCacheHit,
		}
	}

	res, err := p.runner.Run(ctx, runner.Command{
		Path: info.Path,
		Args: req.Args,
		Dir:  req.Cwd,
	})
	if err != nil {
		return launchError(info.Path, err)
	}

	if !res.Success() {
		return Result{
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Outcome:  OutcomeCompileFailed,
		}
	}

	object, err := os.ReadFile(outputPath)
	if err != nil {
		// The compiler claimed success but produced nothing readable.
		// A pipeline error, distinct from a compiler error; not cached.
		return Result{
			ExitCode: -1,
			Stdout:   res.Stdout,
			Stderr:   []byte(fmt.Sprintf("sccache: compiler reported success but output %s is unreadable: %v\n", outputPath, err)),
			Outcome:  OutcomeError,
		}
	}

	putErr := p.cache.Put(key, &cache.Entry{
		Object:   object,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	})
	if putErr != nil {
		// The compile itself succeeded; a failed cache write is dropped,
		// not surfaced.
		p.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", putErr))
	}

	p.logger.Debug("cache miss, stored result", slog.String("key", key))

	return Result{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Outcome:  OutcomeCacheMiss,
	}
}

// runDirect executes the original invocation verbatim and relays its
// output unmodified. No cache reads or writes happen on this path.
func (p *Pipeline) runDirect(ctx context.Context, exe string, req Request, outcome Outcome) Result {
	res, err := p.runner.Run(ctx, runner.Command{
		Path: exe,
		Args: req.Args,
		Dir:  req.Cwd,
	})
	if err != nil {
		return launchError(exe, err)
	}

	return Result{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Outcome:  outcome,
	}
}

func launchError(exe string, err error) Result {
	return Result{
		ExitCode: -1,
		Stderr:   []byte(fmt.Sprintf("sccache: failed to execute %s: %v\n", exe, err)),
		Outcome:  OutcomeError,
	}
}
