package compiler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posix4e/sccache/internal/cache"
	"github.com/posix4e/sccache/internal/runner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipeline(t *testing.T) (*Pipeline, *runner.MockRunner, *cache.Cache) {
	t.Helper()

	m := runner.NewMockRunner()

	c, err := cache.Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return NewPipeline(m, c, testLogger()), m, c
}

func TestDetector_MemoizesProbe(t *testing.T) {
	m := runner.NewMockRunner()
	d := NewDetector(m)

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc (GCC) 13.2.0")}, nil)

	info := d.Detect(context.Background(), "/usr/bin/gcc", "/tmp", nil)
	assert.Equal(t, KindGCC, info.Kind)
	assert.Equal(t, "gcc (GCC) 13.2.0", info.Version)

	// Second detection must not probe again: the mock would panic on an
	// unexpected spawn.
	again := d.Detect(context.Background(), "/usr/bin/gcc", "/tmp", nil)
	assert.Equal(t, info, again)
	assert.Len(t, m.Commands, 1)
}

func TestDetector_ConcurrentFirstDetectionProbesOnce(t *testing.T) {
	m := runner.NewMockRunner()
	d := NewDetector(m)

	// Exactly one probe response is queued; a second spawn would panic.
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc (GCC) 13.2.0")}, nil)

	const workers = 8
	results := make(chan Info, workers)
	for range workers {
		go func() {
			results <- d.Detect(context.Background(), "/usr/bin/gcc", "/tmp", nil)
		}()
	}

	for range workers {
		assert.Equal(t, KindGCC, (<-results).Kind)
	}
	assert.Len(t, m.Commands, 1)
}

func TestDetector_Classification(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		exit   int
		want   Kind
	}{
		{name: "gcc", stdout: "gcc (Debian 12.2.0-14) 12.2.0", want: KindGCC},
		{name: "clang", stdout: "Ubuntu clang version 15.0.7", want: KindClang},
		{name: "unknown tool", stdout: "hello", want: KindUnsupported},
		{name: "probe fails", stdout: "gcc", exit: 1, want: KindUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := runner.NewMockRunner()
			d := NewDetector(m)

			m.NextRuns(runner.Result{ExitCode: tt.exit, Stdout: []byte(tt.stdout)}, nil)

			info := d.Detect(context.Background(), "/usr/bin/cc", "/tmp", nil)
			assert.Equal(t, tt.want, info.Kind)
		})
	}
}

func TestPipeline_UnsupportedCompilerRunsDirectly(t *testing.T) {
	p, m, c := testPipeline(t)

	// Probe claims to be some unknown tool.
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("hello"), Stderr: []byte("error")}, nil)
	// Direct execution of the original invocation.
	m.NextRuns(runner.Result{ExitCode: 2, Stdout: []byte("tool out"), Stderr: []byte("tool err")}, nil)

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/weird",
		Args: []string{"-c", "file.c", "-o", "file.o"},
		Cwd:  t.TempDir(),
	})

	assert.Equal(t, OutcomeUnsupported, res.Outcome)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "tool out", string(res.Stdout))
	assert.Equal(t, "tool err", string(res.Stderr))

	// The original argv was relayed untouched.
	require.Len(t, m.Commands, 2)
	assert.Equal(t, []string{"-c", "file.c", "-o", "file.o"}, m.Commands[1].Args)

	// No cache activity at all.
	count, err := c.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipeline_SupportedCompileMissThenHit(t *testing.T) {
	p, m, c := testPipeline(t)
	cwd := t.TempDir()

	// Probe: pretend it's gcc.
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	// Preprocessor invocation.
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("preprocessor stdout"), Stderr: []byte("preprocessor stderr")}, nil)
	// Compiler invocation: write the object file, then claim success.
	m.NextCalls(func(cmd runner.Command) (runner.Result, error) {
		obj := filepath.Join(cwd, "file.o")
		if err := os.WriteFile(obj, []byte("file contents"), 0o644); err != nil {
			return runner.Result{}, err
		}
		return runner.Result{ExitCode: 0, Stdout: []byte("some stdout"), Stderr: []byte("some stderr")}, nil
	})

	req := Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"-c", "file.c", "-o", "file.o"},
		Cwd:  cwd,
	}

	res := p.Compile(context.Background(), req)

	assert.Equal(t, OutcomeCacheMiss, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	// The compile step's output is relayed, not the preprocess step's.
	assert.Equal(t, "some stdout", string(res.Stdout))
	assert.Equal(t, "some stderr", string(res.Stderr))

	count, err := c.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same request again: only the preprocessor runs, the object comes
	// from the cache.
	require.NoError(t, os.Remove(filepath.Join(cwd, "file.o")))
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("preprocessor stdout"), Stderr: []byte("preprocessor stderr")}, nil)

	res = p.Compile(context.Background(), req)

	assert.Equal(t, OutcomeCacheHit, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "some stdout", string(res.Stdout))
	assert.Equal(t, "some stderr", string(res.Stderr))

	restored, err := os.ReadFile(filepath.Join(cwd, "file.o"))
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(restored))

	assert.Equal(t, 0, m.Remaining(), "no extra compiler spawn on a cache hit")
}

func TestPipeline_AttachedOutputCompiles(t *testing.T) {
	p, m, c := testPipeline(t)
	cwd := t.TempDir()

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("preprocessed")}, nil)
	m.NextCalls(func(runner.Command) (runner.Result, error) {
		require.NoError(t, os.WriteFile(filepath.Join(cwd, "out.o"), []byte("object"), 0o644))
		return runner.Result{ExitCode: 0}, nil
	})

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"-c", "file.c", "-oout.o"},
		Cwd:  cwd,
	})

	assert.Equal(t, OutcomeCacheMiss, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)

	// The preprocess argv must not carry the attached output, or the
	// preprocessed text would land in out.o instead of stdout.
	require.Len(t, m.Commands, 3)
	assert.Equal(t, []string{"-E", "file.c"}, m.Commands[1].Args)

	count, err := c.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipeline_DifferentPreprocessedSourceMisses(t *testing.T) {
	p, m, _ := testPipeline(t)
	cwd := t.TempDir()

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("int x = 1;")}, nil)
	m.NextCalls(func(runner.Command) (runner.Result, error) {
		require.NoError(t, os.WriteFile(filepath.Join(cwd, "file.o"), []byte("obj1"), 0o644))
		return runner.Result{ExitCode: 0}, nil
	})

	req := Request{Exe: "/usr/bin/gcc", Args: []string{"-c", "file.c", "-o", "file.o"}, Cwd: cwd}
	res := p.Compile(context.Background(), req)
	require.Equal(t, OutcomeCacheMiss, res.Outcome)

	// The source changed: the preprocessed text differs, so the second
	// request compiles again instead of hitting.
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("int x = 2;")}, nil)
	m.NextCalls(func(runner.Command) (runner.Result, error) {
		require.NoError(t, os.WriteFile(filepath.Join(cwd, "file.o"), []byte("obj2"), 0o644))
		return runner.Result{ExitCode: 0}, nil
	})

	res = p.Compile(context.Background(), req)
	assert.Equal(t, OutcomeCacheMiss, res.Outcome)
}

func TestPipeline_PreprocessFailureIsTerminal(t *testing.T) {
	p, m, c := testPipeline(t)

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{ExitCode: 1, Stderr: []byte("file.c:1: missing include")}, nil)

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"-c", "file.c", "-o", "file.o"},
		Cwd:  t.TempDir(),
	})

	assert.Equal(t, OutcomeCompileFailed, res.Outcome)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "file.c:1: missing include", string(res.Stderr))

	count, err := c.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count, "failures are never cached")
}

func TestPipeline_CompileFailureIsNotCached(t *testing.T) {
	p, m, c := testPipeline(t)

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("preprocessed")}, nil)
	m.NextRuns(runner.Result{ExitCode: 1, Stderr: []byte("file.c:3: syntax error")}, nil)

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"-c", "file.c", "-o", "file.o"},
		Cwd:  t.TempDir(),
	})

	assert.Equal(t, OutcomeCompileFailed, res.Outcome)
	assert.Equal(t, 1, res.ExitCode)

	count, err := c.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipeline_MissingOutputIsAPipelineError(t *testing.T) {
	p, m, c := testPipeline(t)

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("preprocessed")}, nil)
	// Compiler claims success but writes nothing.
	m.NextRuns(runner.Result{ExitCode: 0}, nil)

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"-c", "file.c", "-o", "file.o"},
		Cwd:  t.TempDir(),
	})

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, string(res.Stderr), "output")

	count, err := c.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipeline_LinkStepRunsDirectly(t *testing.T) {
	p, m, c := testPipeline(t)

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("linked")}, nil)

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"file.o", "-o", "prog"},
		Cwd:  t.TempDir(),
	})

	assert.Equal(t, OutcomeNonCompilation, res.Outcome)
	assert.Equal(t, "linked", string(res.Stdout))

	count, err := c.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipeline_NotCacheableArgsRunDirectly(t *testing.T) {
	p, m, _ := testPipeline(t)

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("preprocessed source")}, nil)

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"-E", "file.c"},
		Cwd:  t.TempDir(),
	})

	assert.Equal(t, OutcomeNotCacheable, res.Outcome)
	assert.Equal(t, "preprocessed source", string(res.Stdout))
}

func TestPipeline_LaunchFailureIsAnError(t *testing.T) {
	p, m, _ := testPipeline(t)

	m.NextRuns(runner.Result{ExitCode: 0, Stdout: []byte("gcc")}, nil)
	m.NextRuns(runner.Result{}, os.ErrNotExist)

	res := p.Compile(context.Background(), Request{
		Exe:  "/usr/bin/gcc",
		Args: []string{"-c", "file.c", "-o", "file.o"},
		Cwd:  t.TempDir(),
	})

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, string(res.Stderr), "failed to execute")
}
