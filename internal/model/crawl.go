package model

import "strings"

// CrawledPage is one fetched page: its final URL, extracted visible text,
// and the outgoing links discovered on it.
type CrawledPage struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Text        string   `json:"text"`
	Links       []string `json:"links,omitempty"`
	SocialLinks []string `json:"social_links,omitempty"`
}

// CrawlResult is the crawler's output for one site. Pages preserve visit
// order with the entry page first. Truncated is set when the mode's budget
// ran out while unvisited links remained.
type CrawlResult struct {
	Pages        []CrawledPage `json:"pages"`
	PagesVisited int           `json:"pages_visited"`
	Truncated    bool          `json:"truncated"`
}

// EntryURL returns the final URL of the entry page, or "" for an empty crawl.
func (cr *CrawlResult) EntryURL() string {
	if len(cr.Pages) == 0 {
		return ""
	}
	return cr.Pages[0].URL
}

// AllText concatenates the text of every page in visit order, separated by
// newlines. Used for evidence checks against extracted contact values.
func (cr *CrawlResult) AllText() string {
	var b strings.Builder
	for _, p := range cr.Pages {
		b.WriteString(p.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// AllSocialLinks returns the deduplicated social media links collected across
// all pages, preserving first-seen order.
func (cr *CrawlResult) AllSocialLinks() []string {
	seen := make(map[string]bool)
	var links []string
	for _, p := range cr.Pages {
		for _, l := range p.SocialLinks {
			if seen[l] {
				continue
			}
			seen[l] = true
			links = append(links, l)
		}
	}
	return links
}
