package server

import (
	"fmt"
	"sync"

	"github.com/posix4e/sccache/internal/cache"
	"github.com/posix4e/sccache/internal/compiler"
	"github.com/posix4e/sccache/internal/metrics"
	"github.com/posix4e/sccache/internal/protocol"
)

// Stats tracks the daemon's counters. Updates happen synchronously with
// request handling, under a lock, so the counts are always consistent
// with the requests actually observed.
type Stats struct {
	mu sync.Mutex

	compileRequests uint64
	hits            uint64
	misses          uint64
	failures        uint64
	unsupported     uint64
	nonCompilation  uint64
	notCacheable    uint64
	errors          uint64

	recorder *metrics.Recorder
}

func newStats(rec *metrics.Recorder) *Stats {
	return &Stats{recorder: rec}
}

// recordRequest counts one incoming compile request.
func (s *Stats) recordRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compileRequests++
}

// recordOutcome counts how a compile request was served.
func (s *Stats) recordOutcome(o compiler.Outcome) {
	s.mu.Lock()

	switch o {
	case compiler.OutcomeCacheHit:
		s.hits++
	case compiler.OutcomeCacheMiss:
		s.misses++
	case compiler.OutcomeCompileFailed:
		s.failures++
	case compiler.OutcomeUnsupported:
		s.unsupported++
	case compiler.OutcomeNonCompilation:
		s.nonCompilation++
	case compiler.OutcomeNotCacheable:
		s.notCacheable++
	case compiler.OutcomeError:
		s.errors++
	}

	s.mu.Unlock()

	s.recorder.ObserveRequest(outcomeLabel(o))
}

// snapshot renders the counters for a stats response, including the
// cache's current location and size.
func (s *Stats) snapshot(c *cache.Cache) map[string]protocol.StatValue {
	s.mu.Lock()
	out := map[string]protocol.StatValue{
		"Compile requests":           protocol.CountStat(s.compileRequests),
		"Compile requests executed":  protocol.CountStat(s.misses + s.failures),
		"Cache hits":                 protocol.CountStat(s.hits),
		"Cache misses":               protocol.CountStat(s.misses),
		"Compile failures":           protocol.CountStat(s.failures),
		"Unsupported compiler calls": protocol.CountStat(s.unsupported),
		"Non-compilation calls":      protocol.CountStat(s.nonCompilation),
		"Non-cacheable calls":        protocol.CountStat(s.notCacheable),
		"Compile errors":             protocol.CountStat(s.errors),
	}
	s.mu.Unlock()

	out["Cache location"] = protocol.TextStat(c.Dir())

	if size, err := c.Size(); err == nil {
		out["Cache size"] = protocol.TextStat(fmt.Sprintf("%d bytes", size))
		s.recorder.SetCacheSize(size)
	}

	if max := c.MaxSize(); max > 0 {
		out["Max cache size"] = protocol.TextStat(fmt.Sprintf("%d bytes", max))
	} else {
		out["Max cache size"] = protocol.TextStat("unbounded")
	}

	return out
}

// outcomeLabel maps an outcome to its metrics label.
func outcomeLabel(o compiler.Outcome) string {
	switch o {
	case compiler.OutcomeCacheHit:
		return "cache_hit"
	case compiler.OutcomeCacheMiss:
		return "cache_miss"
	case compiler.OutcomeCompileFailed:
		return "compile_failed"
	case compiler.OutcomeUnsupported:
		return "unsupported"
	case compiler.OutcomeNonCompilation:
		return "non_compilation"
	case compiler.OutcomeNotCacheable:
		return "not_cacheable"
	case compiler.OutcomeError:
		return "error"
	}

	return "unknown"
}
