package search

import (
	"sort"
	"strconv"
	"sync"

	"github.com/bchewy/issueradar/server/github"
)

// metaAccumulator folds per-call metadata into a single response summary.
// It is safe for concurrent use across the fan-out goroutines.
type metaAccumulator struct {
	mu                 sync.Mutex
	cached             bool
	rateLimited        bool
	warnings           []string
	rateLimits         []map[string]string
	totalFound         int
	candidatesSearched int
}

func (m *metaAccumulator) merge(meta github.CallMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = m.cached || meta.Cached
	m.rateLimited = m.rateLimited || meta.RateLimited
	m.warnings = append(m.warnings, meta.Warnings...)
	if len(meta.RateLimit) > 0 {
		m.rateLimits = append(m.rateLimits, meta.RateLimit)
	}
	m.totalFound += meta.TotalCount
}

func (m *metaAccumulator) addWarning(warning string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, warning)
}

func (m *metaAccumulator) addWarnings(warnings []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, warnings...)
}

func (m *metaAccumulator) markCached(cached bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = m.cached || cached
}

func (m *metaAccumulator) markRateLimited(limited bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = m.rateLimited || limited
}

func (m *metaAccumulator) setCandidatesSearched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidatesSearched = n
}

// build produces the summary: warnings deduplicated in insertion order, the
// minimum remaining and reset across all rate-limit headers, and the sorted
// set of limit resources seen.
func (m *metaAccumulator) build(tookMs int64) Meta {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(m.warnings))
	warnings := make([]string, 0, len(m.warnings))
	for _, warning := range m.warnings {
		if _, ok := seen[warning]; ok {
			continue
		}
		seen[warning] = struct{}{}
		warnings = append(warnings, warning)
	}

	var summary RateLimitSummary
	resourceSet := make(map[string]struct{})
	for _, entry := range m.rateLimits {
		if resource := entry["resource"]; resource != "" {
			resourceSet[resource] = struct{}{}
		}
		if remaining, err := strconv.Atoi(entry["remaining"]); err == nil {
			if summary.RemainingMin == nil || remaining < *summary.RemainingMin {
				value := remaining
				summary.RemainingMin = &value
			}
		}
		if reset, err := strconv.Atoi(entry["reset"]); err == nil {
			if summary.ResetMin == nil || reset < *summary.ResetMin {
				value := reset
				summary.ResetMin = &value
			}
		}
	}
	for resource := range resourceSet {
		summary.Resources = append(summary.Resources, resource)
	}
	sort.Strings(summary.Resources)

	return Meta{
		RateLimit:          summary,
		Cached:             m.cached,
		TookMs:             tookMs,
		Warnings:           warnings,
		RateLimited:        m.rateLimited,
		TotalFound:         m.totalFound,
		CandidatesSearched: m.candidatesSearched,
	}
}
