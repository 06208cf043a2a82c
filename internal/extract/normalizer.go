// Package extract turns crawled page text into the fixed-schema company
// profile. The heavy lifting is an AI extraction call; a small regex layer
// backfills contact fields the model missed.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/model"
	"github.com/dataharvest/harvester/internal/resilience"
	"github.com/dataharvest/harvester/pkg/anthropic"
)

// ErrExtractionFailed reports that the AI extraction produced no usable
// profile after the retry.
var ErrExtractionFailed = eris.New("profile extraction failed")

const (
	maxFallbackContacts = 3

	systemPrompt = "You extract structured company information from website text. " +
		"You respond with strict JSON only. You never invent values: a field " +
		"with no supporting text stays an empty string."
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
)

// Normalizer runs AI extraction over a crawl result.
type Normalizer struct {
	ai        anthropic.Client
	cfg       config.ExtractConfig
	model     string
	maxTokens int64
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(ai anthropic.Client, cfg config.ExtractConfig, aiCfg config.AnthropicConfig) *Normalizer {
	return &Normalizer{
		ai:        ai,
		cfg:       cfg,
		model:     aiCfg.Model,
		maxTokens: aiCfg.MaxTokens,
	}
}

// Extract produces a profile from the crawl. The extraction call gets one
// retry; after that the error wraps ErrExtractionFailed. The returned profile
// has no verification status yet.
func (n *Normalizer) Extract(ctx context.Context, crawl *model.CrawlResult) (*model.ExtractedProfile, error) {
	if crawl == nil || len(crawl.Pages) == 0 {
		return nil, eris.Wrap(ErrExtractionFailed, "extract: empty crawl")
	}

	if n.cfg.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(n.cfg.TimeoutSecs)*time.Second)
		defer cancel()
	}

	corpus := buildCorpus(crawl, n.cfg.PageCharBudget, n.cfg.TotalCharBudget)

	profile, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: 2,
		Operation:   "ai extraction",
		// Malformed model output is worth one more attempt, same as a
		// transient API error.
		ShouldRetry: func(error) bool { return true },
	}, func(ctx context.Context) (*model.ExtractedProfile, error) {
		return n.extractOnce(ctx, crawl.EntryURL(), corpus)
	})
	if err != nil {
		return nil, eris.Wrapf(ErrExtractionFailed, "%v", err)
	}

	supplementContacts(profile, corpus)
	profile.SocialLinks = mergeLinks(crawl.AllSocialLinks(), profile.SocialLinks)

	return profile, nil
}

func (n *Normalizer) extractOnce(ctx context.Context, entryURL, corpus string) (*model.ExtractedProfile, error) {
	temp := 0.0
	resp, err := n.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       n.model,
		MaxTokens:   n.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: extractionPrompt(entryURL, corpus)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: ai call")
	}

	raw := extractJSON(resp.FirstText())
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, eris.Wrapf(err, "extract: parse ai output %q", truncate(raw, 200))
	}

	return coerceProfile(fields), nil
}

func extractionPrompt(entryURL, corpus string) string {
	return fmt.Sprintf(`Website: %s

Extract the company profile from the website text below. Respond with JSON
containing exactly these keys, each a string (empty when unknown):

"Company Name", "Industry", "Description", "Services", "Address",
"Country", "State", "City", "Postal Code", "Phone", "Email",
"Founders/Key People"

"Description" is one or two sentences. "Services" lists offerings separated
by semicolons. "Founders/Key People" lists names with roles separated by
semicolons.

Website text:
%s`, entryURL, corpus)
}

// buildCorpus concatenates page text in visit order, entry page first, with a
// per-page and a total character cap.
func buildCorpus(crawl *model.CrawlResult, pageBudget, totalBudget int) string {
	if pageBudget <= 0 {
		pageBudget = 8000
	}
	if totalBudget <= 0 {
		totalBudget = 16000
	}

	var b strings.Builder
	for _, p := range crawl.Pages {
		if b.Len() >= totalBudget {
			break
		}
		text := cutAtRune(p.Text, pageBudget)
		if remaining := totalBudget - b.Len(); len(text) > remaining {
			text = cutAtRune(text, remaining)
		}

		fmt.Fprintf(&b, "--- %s ---\n", p.URL)
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

// coerceProfile maps the model's loosely-typed JSON onto the fixed schema.
// Arrays are joined with semicolons, non-string scalars stringified, and
// unknown keys dropped.
func coerceProfile(fields map[string]any) *model.ExtractedProfile {
	get := func(key string) string {
		v, ok := fields[key]
		if !ok || v == nil {
			return ""
		}
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t)
		case []any:
			parts := make([]string, 0, len(t))
			for _, e := range t {
				if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			return strings.Join(parts, "; ")
		case float64:
			return strings.TrimSuffix(fmt.Sprintf("%v", t), ".0")
		default:
			return ""
		}
	}

	return &model.ExtractedProfile{
		CompanyName: get("Company Name"),
		Industry:    get("Industry"),
		Description: get("Description"),
		Services:    get("Services"),
		Address:     get("Address"),
		Country:     get("Country"),
		State:       get("State"),
		City:        get("City"),
		PostalCode:  get("Postal Code"),
		Phone:       get("Phone"),
		Email:       get("Email"),
		KeyPeople:   get("Founders/Key People"),
	}
}

// supplementContacts backfills empty Phone/Email from regex matches over the
// corpus, capped to keep junk out of the export.
func supplementContacts(p *model.ExtractedProfile, corpus string) {
	if p.Email == "" {
		if emails := dedupeCapped(emailPattern.FindAllString(corpus, -1), maxFallbackContacts); len(emails) > 0 {
			p.Email = strings.Join(emails, ", ")
			zap.L().Debug("extract: email backfilled from page text", zap.Int("count", len(emails)))
		}
	}
	if p.Phone == "" {
		var phones []string
		for _, m := range phonePattern.FindAllString(corpus, -1) {
			if digits := countDigits(m); digits >= 8 && digits <= 15 {
				phones = append(phones, strings.TrimSpace(m))
			}
		}
		if phones = dedupeCapped(phones, maxFallbackContacts); len(phones) > 0 {
			p.Phone = strings.Join(phones, ", ")
			zap.L().Debug("extract: phone backfilled from page text", zap.Int("count", len(phones)))
		}
	}
}

func dedupeCapped(in []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(s))
		if len(out) >= limit {
			break
		}
	}
	return out
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// mergeLinks combines crawled social links with any the model reported,
// crawled first, deduplicated case-insensitively.
func mergeLinks(crawled, fromAI []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range append(append([]string{}, crawled...), fromAI...) {
		key := strings.ToLower(strings.TrimRight(l, "/"))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
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

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return cutAtRune(s, n) + "..."
}

// cutAtRune trims s to at most n bytes without splitting a multi-byte rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
