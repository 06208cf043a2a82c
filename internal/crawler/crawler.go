// Package crawler fetches a company site's pages according to the crawl
// mode: a handful of high-value pages in realtime mode, or a bounded
// breadth-first traversal in deep mode.
package crawler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/model"
)

// ErrFetchFailed marks an unreachable entry page. Secondary page failures
// are skipped, never fatal.
var ErrFetchFailed = eris.New("entry page unreachable")

// secondaryFetchConcurrency bounds parallel secondary-page fetches within
// one crawl.
const secondaryFetchConcurrency = 5

// highValuePaths rank realtime-mode link candidates. Lower index wins.
var highValuePaths = []string{
	"about",
	"contact",
	"team",
	"company",
	"service",
	"who-we-are",
}

// Crawler drives a Fetcher across one or more pages per site.
type Crawler struct {
	fetcher Fetcher
	cfg     config.CrawlConfig
}

// New creates a Crawler.
func New(fetcher Fetcher, cfg config.CrawlConfig) *Crawler {
	return &Crawler{fetcher: fetcher, cfg: cfg}
}

// Crawl fetches pages from rawURL under the mode's page and wall-clock
// budgets. The entry page is always first in the result; an unreachable
// entry page is fatal, while secondary failures only shrink the result.
func (c *Crawler) Crawl(ctx context.Context, rawURL string, mode model.Mode) (*model.CrawlResult, error) {
	budget := c.pageBudget(mode)

	ctx, cancel := context.WithTimeout(ctx, c.wallClockBudget(mode))
	defer cancel()

	entry, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, eris.Wrapf(ErrFetchFailed, "%s: %v", rawURL, err)
	}

	if mode == model.ModeDeep {
		return c.crawlDeep(ctx, entry, budget)
	}
	return c.crawlRealtime(ctx, entry, budget)
}

// crawlRealtime fetches the entry page plus the highest-value same-site
// links from it, up to the realtime budget.
func (c *Crawler) crawlRealtime(ctx context.Context, entry *Page, budget int) (*model.CrawlResult, error) {
	visited := map[string]bool{CanonicalKey(entry.URL): true}

	candidates := rankRealtimeLinks(entry.Links)
	var targets []string
	truncated := false
	for _, link := range candidates {
		key := CanonicalKey(link)
		if visited[key] {
			continue
		}
		// Only distinct pages dropped for budget count as truncation;
		// duplicate links back to visited pages never do.
		if len(targets) >= budget-1 {
			truncated = true
			break
		}
		visited[key] = true
		targets = append(targets, link)
	}

	// Fetch the selected pages concurrently, placing results by index so
	// page order matches selection order.
	secondary := make([]*Page, len(targets))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(secondaryFetchConcurrency)
	for i, link := range targets {
		g.Go(func() error {
			page, err := c.fetcher.Fetch(gCtx, link)
			if err != nil {
				zap.L().Debug("crawler: secondary page fetch failed",
					zap.String("url", link),
					zap.Error(err),
				)
				return nil
			}
			secondary[i] = page
			return nil
		})
	}
	_ = g.Wait()

	result := &model.CrawlResult{
		Pages:     []model.CrawledPage{toCrawledPage(entry)},
		Truncated: truncated,
	}
	for _, p := range secondary {
		if p != nil {
			result.Pages = append(result.Pages, toCrawledPage(p))
		}
	}
	result.PagesVisited = len(result.Pages)
	return result, nil
}

// crawlDeep runs a breadth-first same-origin traversal from the entry page.
// Visited URLs are deduplicated by canonical key; the traversal stops when
// the page budget or the mode's wall clock runs out, setting Truncated if
// links remain unvisited.
func (c *Crawler) crawlDeep(ctx context.Context, entry *Page, budget int) (*model.CrawlResult, error) {
	result := &model.CrawlResult{
		Pages: []model.CrawledPage{toCrawledPage(entry)},
	}

	visited := map[string]bool{CanonicalKey(entry.URL): true}
	var queue []string
	enqueue := func(links []string) {
		for _, link := range links {
			key := CanonicalKey(link)
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, link)
		}
	}
	enqueue(entry.Links)

	var mu sync.Mutex
	for len(queue) > 0 && len(result.Pages) < budget {
		if ctx.Err() != nil {
			result.Truncated = true
			break
		}

		// Drain a batch and fetch it in parallel, appending pages in batch
		// order. Discovered links feed the next round.
		take := budget - len(result.Pages)
		if take > secondaryFetchConcurrency {
			take = secondaryFetchConcurrency
		}
		if take > len(queue) {
			take = len(queue)
		}
		batch := queue[:take]
		queue = queue[take:]

		pages := make([]*Page, len(batch))
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(secondaryFetchConcurrency)
		for i, link := range batch {
			g.Go(func() error {
				page, err := c.fetcher.Fetch(gCtx, link)
				if err != nil {
					zap.L().Debug("crawler: page fetch failed",
						zap.String("url", link),
						zap.Error(err),
					)
					return nil
				}
				mu.Lock()
				pages[i] = page
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for _, p := range pages {
			if p == nil {
				continue
			}
			result.Pages = append(result.Pages, toCrawledPage(p))
			enqueue(p.Links)
		}
	}

	if len(queue) > 0 {
		result.Truncated = true
	}
	result.PagesVisited = len(result.Pages)
	return result, nil
}

// rankRealtimeLinks orders links so that high-value paths (about, contact,
// team, ...) come first, preserving document order within a rank.
func rankRealtimeLinks(links []string) []string {
	type ranked struct {
		link string
		rank int
		pos  int
	}
	out := make([]ranked, 0, len(links))
	for i, link := range links {
		out = append(out, ranked{link: link, rank: pathRank(link), pos: i})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].pos < out[j].pos
	})
	result := make([]string, len(out))
	for i, r := range out {
		result[i] = r.link
	}
	return result
}

func pathRank(link string) int {
	lower := strings.ToLower(link)
	for i, p := range highValuePaths {
		if strings.Contains(lower, p) {
			return i
		}
	}
	return len(highValuePaths)
}

func toCrawledPage(p *Page) model.CrawledPage {
	text := p.Text
	if text == "" && p.MetaDesc != "" {
		text = p.MetaDesc
	}
	return model.CrawledPage{
		URL:         p.URL,
		Title:       p.Title,
		Text:        text,
		Links:       p.Links,
		SocialLinks: p.SocialLinks,
	}
}

func (c *Crawler) pageBudget(mode model.Mode) int {
	if mode == model.ModeDeep {
		if c.cfg.DeepMaxPages > 0 {
			return c.cfg.DeepMaxPages
		}
		return 25
	}
	if c.cfg.RealtimeMaxPages > 0 {
		return c.cfg.RealtimeMaxPages
	}
	return 5
}

func (c *Crawler) wallClockBudget(mode model.Mode) time.Duration {
	if mode == model.ModeDeep {
		if c.cfg.DeepTimeoutSecs > 0 {
			return time.Duration(c.cfg.DeepTimeoutSecs) * time.Second
		}
		return 90 * time.Second
	}
	if c.cfg.RealtimeTimeoutSecs > 0 {
		return time.Duration(c.cfg.RealtimeTimeoutSecs) * time.Second
	}
	return 20 * time.Second
}
