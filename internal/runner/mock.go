package runner

import (
	"context"
	"fmt"
	"sync"
)

// mockResponse is one queued outcome for the mock runner. Either fn is
// set, or res/err hold a fixed result.
type mockResponse struct {
	res Result
	err error
	fn  func(cmd Command) (Result, error)
}

// MockRunner is a Runner for tests. Responses are queued in FIFO order,
// either as fixed results or as closures evaluated at call time (useful
// to simulate side effects such as writing an output file before
// claiming success).
//
// Running a command with an empty queue panics: an unexpected process
// spawn is a hard test failure, never a silent pass.
type MockRunner struct {
	mu    sync.Mutex
	queue []mockResponse

	// Commands records every command run, in order
	Commands []Command
}

// NewMockRunner creates an empty mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// NextRuns queues a fixed result (or launch error) for the next run.
func (m *MockRunner) NextRuns(res Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, mockResponse{res: res, err: err})
}

// NextCalls queues a closure invoked with the command for the next run.
func (m *MockRunner) NextCalls(fn func(cmd Command) (Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, mockResponse{fn: fn})
}

// Run pops the next queued response. Panics if the queue is empty.
func (m *MockRunner) Run(_ context.Context, cmd Command) (Result, error) {
	m.mu.Lock()

	if len(m.queue) == 0 {
		m.mu.Unlock()
		panic(fmt.Sprintf("mock runner: unexpected process spawn: %s %v", cmd.Path, cmd.Args))
	}

	next := m.queue[0]
	m.queue = m.queue[1:]
	m.Commands = append(m.Commands, cmd)
	m.mu.Unlock()

	if next.fn != nil {
		return next.fn(cmd)
	}

	return next.res, next.err
}

// Remaining returns the number of queued responses not yet consumed.
func (m *MockRunner) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}
