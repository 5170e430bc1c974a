package scheduler

import "sync"

// CategoryStats counts refresh outcomes for one category.
type CategoryStats struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// RefreshStats is a snapshot of the refresh counters. At every observation
// point TotalRefreshes == SuccessfulRefreshes + FailedRefreshes, and the
// per-category sums equal the globals.
type RefreshStats struct {
	TotalRefreshes      int64                    `json:"total_refreshes"`
	SuccessfulRefreshes int64                    `json:"successful_refreshes"`
	FailedRefreshes     int64                    `json:"failed_refreshes"`
	CategoryStats       map[string]CategoryStats `json:"category_stats"`
}

// stats accumulates refresh outcomes. Each outcome updates the global total,
// the matching global counter and the category counter under one lock, so a
// snapshot can never observe a partial update.
type stats struct {
	mu         sync.Mutex
	total      int64
	success    int64
	failed     int64
	categories map[string]CategoryStats
}

func newStats(categoryNames []string) *stats {
	categories := make(map[string]CategoryStats, len(categoryNames))
	for _, name := range categoryNames {
		categories[name] = CategoryStats{}
	}
	return &stats{categories: categories}
}

func (s *stats) recordSuccess(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.success++
	cs := s.categories[category]
	cs.Success++
	s.categories[category] = cs
}

func (s *stats) recordFailure(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.failed++
	cs := s.categories[category]
	cs.Failed++
	s.categories[category] = cs
}

func (s *stats) snapshot() RefreshStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	categories := make(map[string]CategoryStats, len(s.categories))
	for name, cs := range s.categories {
		categories[name] = cs
	}
	return RefreshStats{
		TotalRefreshes:      s.total,
		SuccessfulRefreshes: s.success,
		FailedRefreshes:     s.failed,
		CategoryStats:       categories,
	}
}
