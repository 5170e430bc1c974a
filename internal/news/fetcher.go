// Package news fetches and processes per-category articles from RSS sources.
package news

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ai-novine/portal/internal/config"
	"github.com/ai-novine/portal/internal/enhance"
	"github.com/ai-novine/portal/internal/model"
	"github.com/mmcdole/gofeed"
)

// ErrServiceUnavailable is returned when no source for a category could be
// fetched. The scheduler records it as a failed refresh.
var ErrServiceUnavailable = errors.New("news service unavailable")

// Concurrency settings
const (
	// MaxConcurrentSources is the number of parallel feed fetches per category.
	MaxConcurrentSources = 4
	// MaxConcurrencyPerDomain limits parallel requests to any single domain.
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain.
	DelayBetweenDomainRequests = 500 * time.Millisecond
	// MaxArticlesPerCategory caps the processed result set.
	MaxArticlesPerCategory = 40
)

// Fetcher returns a freshly fetched and processed article list for a
// category. An empty result or an error both count as a failed refresh.
type Fetcher interface {
	FetchCategory(ctx context.Context, category string) ([]model.Article, error)
}

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newDomainLimiter() *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		elapsed := time.Since(lastReq)
		if elapsed < DelayBetweenDomainRequests {
			select {
			case <-time.After(DelayBetweenDomainRequests - elapsed):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}

	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL // fallback to full URL
	}
	return u.Host
}

// RSSFetcher fetches a category's configured feeds and merges them into one
// processed article list.
type RSSFetcher struct {
	feeds    map[string][]string
	parser   *gofeed.Parser
	enhancer enhance.Enhancer
	limiter  *domainLimiter
}

// NewRSSFetcher builds a fetcher over the validated category configuration.
// A nil enhancer disables enhancement.
func NewRSSFetcher(categories []config.Category, enhancer enhance.Enhancer) *RSSFetcher {
	feeds := make(map[string][]string, len(categories))
	for _, cat := range categories {
		feeds[cat.Name] = cat.Feeds
	}
	if enhancer == nil {
		enhancer = enhance.None()
	}
	return &RSSFetcher{
		feeds:    feeds,
		parser:   gofeed.NewParser(),
		enhancer: enhancer,
		limiter:  newDomainLimiter(),
	}
}

type sourceResult struct {
	articles []model.Article
	err      error
}

// FetchCategory fetches all of a category's sources with bounded
// concurrency and returns the merged, newest-first article list.
func (f *RSSFetcher) FetchCategory(ctx context.Context, category string) ([]model.Article, error) {
	urls, ok := f.feeds[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}

	sem := make(chan struct{}, MaxConcurrentSources)
	results := make(chan sourceResult, len(urls))
	var wg sync.WaitGroup
	for _, feedURL := range urls {
		wg.Add(1)
		go func(feedURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			articles, err := f.fetchSource(ctx, feedURL)
			results <- sourceResult{articles: articles, err: err}
		}(feedURL)
	}
	wg.Wait()
	close(results)

	var merged []model.Article
	failed := 0
	for res := range results {
		if res.err != nil {
			log.Printf("news: %s: %v", category, res.err)
			failed++
			continue
		}
		merged = append(merged, res.articles...)
	}

	if failed == len(urls) {
		return nil, fmt.Errorf("%w: all %d sources for %s failed", ErrServiceUnavailable, len(urls), category)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})
	if len(merged) > MaxArticlesPerCategory {
		merged = merged[:MaxArticlesPerCategory]
	}

	return f.enhanceAll(ctx, merged), nil
}

// fetchSource fetches and parses one feed under the per-domain rate limit.
func (f *RSSFetcher) fetchSource(ctx context.Context, feedURL string) ([]model.Article, error) {
	domain := extractDomain(feedURL)
	if err := f.limiter.acquire(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", feedURL, err)
	}
	defer f.limiter.release(domain)

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	source := parsed.Title
	if source == "" {
		source = domain
	}

	now := time.Now()
	articles := make([]model.Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Title == "" {
			continue
		}
		body := item.Content
		if body == "" {
			body = item.Description
		}
		pubDate := now
		if item.PublishedParsed != nil {
			pubDate = *item.PublishedParsed
		}
		articles = append(articles, model.Article{
			Title:        strings.TrimSpace(item.Title),
			Body:         stripHTML(body),
			Source:       source,
			OriginalLink: item.Link,
			PublishedAt:  pubDate,
			FetchedAt:    now,
		})
	}
	return articles, nil
}

// enhanceAll runs the enhancer over each article. Enhancement errors keep
// the plain article; they never fail the fetch.
func (f *RSSFetcher) enhanceAll(ctx context.Context, articles []model.Article) []model.Article {
	for i, article := range articles {
		enhanced, err := f.enhancer.Enhance(ctx, article)
		if err != nil {
			log.Printf("news: enhance %q: %v", article.Title, err)
			continue
		}
		articles[i] = enhanced
	}
	return articles
}

// stripHTML reduces feed markup to plain text with collapsed whitespace.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
