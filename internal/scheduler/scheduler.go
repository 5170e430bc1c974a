// Package scheduler owns the priority-tiered daily refresh calendar.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ai-novine/portal/internal/config"
	"github.com/ai-novine/portal/internal/model"
	"github.com/ai-novine/portal/internal/news"
)

// ArticleCache is the slice of the cache the scheduler writes through.
type ArticleCache interface {
	SetArticles(ctx context.Context, category string, articles []model.Article, ttl time.Duration) bool
}

// Result is the outcome of one fetch-and-cache invocation.
type Result int

const (
	// ResultSuccess means fresh articles are now cached.
	ResultSuccess Result = iota
	// ResultFailed means the fetch or the cache write failed.
	ResultFailed
	// ResultSkipped means a refresh for the category was already in flight.
	// Skipped runs touch no statistics.
	ResultSkipped
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	case ResultSkipped:
		return "skipped"
	}
	return "unknown"
}

// MarshalText renders the result for JSON responses.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// job is one (category, time-of-day) trigger.
type job struct {
	id       string
	category string
	priority model.Priority
	hour     int
	minute   int
	nextRun  time.Time // guarded by Scheduler.mu
}

// JobStatus describes one registered trigger for status reporting.
type JobStatus struct {
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Priority string    `json:"priority"`
	Time     string    `json:"time"`
	NextRun  time.Time `json:"next_run"`
}

// Status is the scheduler's externally visible state. Timer-derived fields
// are only populated while the scheduler is running.
type Status struct {
	IsRunning         bool                 `json:"is_running"`
	TotalJobs         int                  `json:"total_jobs,omitempty"`
	NextRunByCategory map[string]time.Time `json:"next_run_by_category,omitempty"`
	Jobs              []JobStatus          `json:"jobs,omitempty"`
	RefreshStats      RefreshStats         `json:"refresh_stats"`
}

// ScheduleEntry is one row of the daily calendar projection.
type ScheduleEntry struct {
	Time      string `json:"time"`
	Category  string `json:"category"`
	Priority  string `json:"priority"`
	Frequency string `json:"frequency"`
}

// PriorityRefreshResult reports a tier-wide manual refresh.
type PriorityRefreshResult struct {
	Priority   string            `json:"priority"`
	Results    map[string]Result `json:"results"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Skipped    int               `json:"skipped"`
}

// Scheduler triggers fetch-and-cache cycles for each category at its
// configured wall-clock times, serialized per category and concurrent
// across categories.
type Scheduler struct {
	categories   []config.Category
	byName       map[string]config.Category
	cache        ArticleCache
	fetcher      news.Fetcher
	loc          *time.Location
	fetchTimeout time.Duration
	stats        *stats

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	jobs     []*job
	inFlight map[string]bool
	wg       sync.WaitGroup

	now func() time.Time // injectable for tests
}

// New compiles the validated category configuration into a scheduler.
func New(cfg *config.Config, articleCache ArticleCache, fetcher news.Fetcher) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]config.Category, len(cfg.Categories))
	names := make([]string, 0, len(cfg.Categories))
	var jobs []*job
	for _, cat := range cfg.Categories {
		byName[cat.Name] = cat
		names = append(names, cat.Name)
		for _, ts := range cat.Times {
			t, err := time.Parse("15:04", ts)
			if err != nil {
				return nil, fmt.Errorf("category %q: invalid time %q: %w", cat.Name, ts, err)
			}
			jobs = append(jobs, &job{
				id:       cat.Name + "_" + strings.ReplaceAll(ts, ":", ""),
				category: cat.Name,
				priority: cat.Tier(),
				hour:     t.Hour(),
				minute:   t.Minute(),
			})
		}
	}

	return &Scheduler{
		categories:   cfg.Categories,
		byName:       byName,
		cache:        articleCache,
		fetcher:      fetcher,
		loc:          loc,
		fetchTimeout: cfg.FetchTimeoutDuration(),
		stats:        newStats(names),
		jobs:         jobs,
		inFlight:     make(map[string]bool),
		now:          time.Now,
	}, nil
}

// nextOccurrence returns the next wall-clock occurrence of hour:minute in
// loc strictly after now.
func nextOccurrence(now time.Time, hour, minute int, loc *time.Location) time.Time {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Start registers every (category, time) trigger and launches the timer
// loop. Starting an already running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("scheduler: already running")
		return
	}
	now := s.now()
	for _, j := range s.jobs {
		j.nextRun = nextOccurrence(now, j.hour, j.minute, s.loc)
	}
	s.stopChan = make(chan struct{})
	s.running = true
	stop := s.stopChan
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(stop)
	log.Printf("scheduler: started with %d jobs across %d categories", len(s.jobs), len(s.categories))
}

// Stop cancels future trigger firings and waits for the timer loop to exit.
// In-flight fetches are allowed to complete. Stopping an already stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		log.Printf("scheduler: not running")
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("scheduler: stopped")
}

// Running reports whether the timer loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run is the timer loop: sleep until the soonest trigger, fire every due
// job in its own goroutine, advance their next runs by a day, repeat.
func (s *Scheduler) run(stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		var next time.Time
		for _, j := range s.jobs {
			if next.IsZero() || j.nextRun.Before(next) {
				next = j.nextRun
			}
		}
		s.mu.Unlock()

		if next.IsZero() {
			<-stop
			return
		}

		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		now := s.now()
		s.mu.Lock()
		var due []*job
		for _, j := range s.jobs {
			if !j.nextRun.After(now) {
				due = append(due, j)
				run := j.nextRun.In(s.loc)
				j.nextRun = time.Date(run.Year(), run.Month(), run.Day()+1, j.hour, j.minute, 0, 0, s.loc)
			}
		}
		s.mu.Unlock()

		for _, j := range due {
			j := j
			go func() {
				s.FetchAndCache(context.Background(), j.category, "scheduled")
			}()
		}
	}
}

// beginFlight marks a category as refreshing. It returns false when a
// refresh for that category is already in flight.
func (s *Scheduler) beginFlight(category string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[category] {
		return false
	}
	s.inFlight[category] = true
	return true
}

func (s *Scheduler) endFlight(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, category)
}

// FetchAndCache runs one refresh cycle for a category: fetch, then write to
// the cache under the category's tier TTL. Every completed invocation
// updates exactly one of the success/failure counters plus the global
// total; skipped runs update nothing. Overlapping runs for the same
// category are skipped, not queued.
func (s *Scheduler) FetchAndCache(ctx context.Context, category, trigger string) Result {
	cat, ok := s.byName[category]
	if !ok {
		log.Printf("scheduler: [%s] unknown category %q", trigger, category)
		return ResultFailed
	}

	if !s.beginFlight(category) {
		log.Printf("scheduler: [%s] %s refresh already in flight, skipping", trigger, category)
		return ResultSkipped
	}
	defer s.endFlight(category)

	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	articles, err := s.safeFetch(fctx, category)
	if err != nil {
		log.Printf("scheduler: [%s] %s failed after %.1fs: %v", trigger, category, time.Since(start).Seconds(), err)
		s.stats.recordFailure(category)
		return ResultFailed
	}
	if len(articles) == 0 {
		log.Printf("scheduler: [%s] %s returned no articles", trigger, category)
		s.stats.recordFailure(category)
		return ResultFailed
	}

	if !s.cache.SetArticles(ctx, category, articles, cat.Tier().TTL()) {
		// The fetch succeeded but the cache is not warm; the contract is
		// about cache warmth, so this still counts as a failure.
		log.Printf("scheduler: [%s] %s: cache write failed", trigger, category)
		s.stats.recordFailure(category)
		return ResultFailed
	}

	s.stats.recordSuccess(category)
	log.Printf("scheduler: [%s] %s: %d articles cached in %.1fs", trigger, category, len(articles), time.Since(start).Seconds())
	return ResultSuccess
}

// safeFetch invokes the fetcher, converting panics into errors so a broken
// collaborator can never take down the timer loop.
func (s *Scheduler) safeFetch(ctx context.Context, category string) (articles []model.Article, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panic: %v", r)
		}
	}()
	return s.fetcher.FetchCategory(ctx, category)
}

// ManualRefresh triggers one refresh for a category, subject to the same
// single-flight rule as scheduled runs. Unknown categories are an error.
func (s *Scheduler) ManualRefresh(ctx context.Context, category string) (Result, error) {
	if _, ok := s.byName[category]; !ok {
		return ResultFailed, fmt.Errorf("unknown category %q", category)
	}
	return s.FetchAndCache(ctx, category, "manual"), nil
}

// ManualRefreshByPriority refreshes every category of the given tier and
// collects per-category outcomes. An unknown tier is an error; a tier with
// no categories yields an empty successful result.
func (s *Scheduler) ManualRefreshByPriority(ctx context.Context, tier string) (PriorityRefreshResult, error) {
	priority, err := model.ParsePriority(tier)
	if err != nil {
		return PriorityRefreshResult{}, err
	}

	out := PriorityRefreshResult{
		Priority: priority.String(),
		Results:  make(map[string]Result),
	}
	for _, cat := range s.categories {
		if cat.Tier() != priority {
			continue
		}
		res, err := s.ManualRefresh(ctx, cat.Name)
		if err != nil {
			res = ResultFailed
		}
		out.Results[cat.Name] = res
		switch res {
		case ResultSuccess:
			out.Successful++
		case ResultSkipped:
			out.Skipped++
		default:
			out.Failed++
		}
	}
	return out, nil
}

// Status reports the running flag, the stats snapshot and, while running,
// the registered jobs and the soonest upcoming trigger per category.
func (s *Scheduler) Status() Status {
	st := Status{RefreshStats: s.stats.snapshot()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return st
	}

	st.IsRunning = true
	st.TotalJobs = len(s.jobs)
	st.NextRunByCategory = make(map[string]time.Time, len(s.categories))
	st.Jobs = make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st.Jobs = append(st.Jobs, JobStatus{
			ID:       j.id,
			Category: j.category,
			Priority: j.priority.String(),
			Time:     fmt.Sprintf("%02d:%02d", j.hour, j.minute),
			NextRun:  j.nextRun,
		})
		if cur, ok := st.NextRunByCategory[j.category]; !ok || j.nextRun.Before(cur) {
			st.NextRunByCategory[j.category] = j.nextRun
		}
	}
	sort.Slice(st.Jobs, func(i, k int) bool { return st.Jobs[i].NextRun.Before(st.Jobs[k].NextRun) })
	return st
}

// TodaySchedule projects the static configuration into the day's calendar,
// ascending by time-of-day. It reflects configuration, not live timers.
func (s *Scheduler) TodaySchedule() []ScheduleEntry {
	var entries []ScheduleEntry
	for _, cat := range s.categories {
		for _, ts := range cat.Times {
			entries = append(entries, ScheduleEntry{
				Time:      ts,
				Category:  cat.Name,
				Priority:  cat.Priority,
				Frequency: fmt.Sprintf("%dx/day", cat.Frequency),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Time != entries[j].Time {
			return entries[i].Time < entries[j].Time
		}
		return entries[i].Category < entries[j].Category
	})
	return entries
}

// Categories exposes the static category configuration for display.
func (s *Scheduler) Categories() []config.Category {
	out := make([]config.Category, len(s.categories))
	copy(out, s.categories)
	return out
}
