// Package discovery resolves a company name plus optional geography to the
// company's official website URL. It tries web search first and falls back to
// probing heuristic domain candidates with an AI pick among the survivors.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/crawler"
	"github.com/dataharvest/harvester/pkg/anthropic"
	"github.com/dataharvest/harvester/pkg/websearch"
)

// ErrNotFound reports that no plausible official website could be resolved
// for the company name.
var ErrNotFound = eris.New("no website found for company")

const probeConcurrency = 5

// candidate is one probed domain guess, with whatever page evidence the
// probe surfaced for the AI to judge.
type candidate struct {
	Host  string `json:"domain"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Desc  string `json:"description,omitempty"`
}

// Resolver finds a company's official website from its name.
type Resolver struct {
	search    websearch.Client // nil disables the search path
	ai        anthropic.Client
	fetcher   crawler.Fetcher
	cfg       config.DiscoveryConfig
	model     string
	maxTokens int64
}

// NewResolver creates a Resolver. The search client may be nil, in which case
// resolution goes straight to candidate probing.
func NewResolver(search websearch.Client, ai anthropic.Client, fetcher crawler.Fetcher, cfg config.DiscoveryConfig, aiCfg config.AnthropicConfig) *Resolver {
	return &Resolver{
		search:    search,
		ai:        ai,
		fetcher:   fetcher,
		cfg:       cfg,
		model:     aiCfg.Model,
		maxTokens: aiCfg.MaxTokens,
	}
}

// Resolve returns the official website URL for the named company, or
// ErrNotFound when neither search nor candidate probing produces a reachable
// site.
func (r *Resolver) Resolve(ctx context.Context, companyName, geography string) (string, error) {
	name := strings.TrimSpace(companyName)
	if name == "" {
		return "", eris.New("discovery: empty company name")
	}

	if r.cfg.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSecs)*time.Second)
		defer cancel()
	}

	if r.search != nil {
		if u, err := r.resolveViaSearch(ctx, name, geography); err == nil {
			return u, nil
		} else if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "discovery: resolve")
		} else {
			zap.L().Debug("discovery: search path failed, falling back to candidates",
				zap.String("company", name),
				zap.Error(err),
			)
		}
	}

	return r.resolveViaCandidates(ctx, name, geography)
}

func (r *Resolver) resolveViaSearch(ctx context.Context, name, geography string) (string, error) {
	query := name + " official website"
	if geography != "" {
		query += " " + geography
	}

	resp, err := r.search.Search(ctx, query)
	if err != nil {
		return "", eris.Wrap(err, "discovery: search")
	}

	for _, result := range resp.Data {
		if result.URL == "" || isAggregatorURL(result.URL) {
			continue
		}
		page, err := r.fetcher.Fetch(ctx, result.URL)
		if err != nil {
			zap.L().Debug("discovery: search result unreachable",
				zap.String("url", result.URL),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("discovery: resolved via search",
			zap.String("company", name),
			zap.String("url", page.URL),
		)
		return page.URL, nil
	}

	return "", eris.New("discovery: no usable search result")
}

// isAggregatorURL filters search results that are never a company's own site:
// social profiles, directories, and encyclopedias.
func isAggregatorURL(rawURL string) bool {
	u := strings.ToLower(rawURL)
	for _, d := range []string{
		"linkedin.com", "facebook.com", "instagram.com", "twitter.com", "x.com",
		"youtube.com", "wikipedia.org", "crunchbase.com", "glassdoor.",
		"indeed.", "yelp.com", "bloomberg.com", "zaubacorp.com",
	} {
		if strings.Contains(u, d) {
			return true
		}
	}
	return false
}

func (r *Resolver) resolveViaCandidates(ctx context.Context, name, geography string) (string, error) {
	hosts := composeCandidateHosts(name, r.cfg.MaxCandidates)
	if len(hosts) == 0 {
		return "", eris.Wrapf(ErrNotFound, "%s", name)
	}

	reachable := r.probeCandidates(ctx, hosts)
	if len(reachable) == 0 {
		return "", eris.Wrapf(ErrNotFound, "%s", name)
	}
	if len(reachable) == 1 {
		return reachable[0].URL, nil
	}

	picked, err := r.pickWithAI(ctx, name, geography, reachable)
	if err != nil {
		zap.L().Warn("discovery: ai pick failed, using first reachable candidate",
			zap.String("company", name),
			zap.Error(err),
		)
		return reachable[0].URL, nil
	}
	return picked, nil
}

// probeCandidates fetches each candidate host concurrently and returns the
// reachable ones in the original (deterministic) host order.
func (r *Resolver) probeCandidates(ctx context.Context, hosts []string) []candidate {
	results := make([]*candidate, len(hosts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, host := range hosts {
		g.Go(func() error {
			page, err := r.fetcher.Fetch(ctx, "https://"+host)
			if err != nil {
				return nil //nolint:nilerr // unreachable candidates are simply dropped
			}
			results[i] = &candidate{
				Host:  host,
				URL:   page.URL,
				Title: page.Title,
				Desc:  page.MetaDesc,
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors

	var reachable []candidate
	for _, c := range results {
		if c != nil {
			reachable = append(reachable, *c)
		}
	}
	return reachable
}

// pickWithAI asks the model to choose the official domain from the probed
// candidates. The model must answer with one of the offered domains; anything
// else is treated as no pick.
func (r *Resolver) pickWithAI(ctx context.Context, name, geography string, candidates []candidate) (string, error) {
	evidence, err := json.Marshal(candidates)
	if err != nil {
		return "", eris.Wrap(err, "discovery: marshal candidates")
	}

	location := geography
	if location == "" {
		location = "unknown"
	}

	prompt := fmt.Sprintf(`Company name: %s
Location: %s

Candidate domains with the page title and description each one serves:

%s

Which candidate is this company's official website? Respond with JSON only:
{"domain": "<one of the candidate domains, or null if none fit>"}`,
		name, location, string(evidence))

	temp := 0.0
	resp, err := r.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    "You identify companies' official websites. You answer with strict JSON and never guess a domain that was not offered.",
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "discovery: ai pick")
	}

	var pick struct {
		Domain string `json:"domain"`
	}
	raw := extractJSON(resp.FirstText())
	if err := json.Unmarshal([]byte(raw), &pick); err != nil {
		return "", eris.Wrapf(err, "discovery: parse ai pick %q", raw)
	}
	if pick.Domain == "" {
		return "", eris.New("discovery: ai picked no domain")
	}

	for _, c := range candidates {
		if crawler.SameSite(c.Host, pick.Domain) {
			zap.L().Info("discovery: resolved via candidates",
				zap.String("company", name),
				zap.String("url", c.URL),
			)
			return c.URL, nil
		}
	}
	return "", eris.Errorf("discovery: ai picked unknown domain %q", pick.Domain)
}

// extractJSON returns the first top-level JSON object in s, tolerating prose
// or code fences around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
