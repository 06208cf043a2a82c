package crawler

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	userAgent   = "Mozilla/5.0 (compatible; HarvesterBot/1.0)"
	maxBodySize = 512 * 1024
)

// socialDomains are link hosts recorded as social media profiles. They are
// never followed, only harvested.
var socialDomains = []string{
	"linkedin.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"youtube.com",
	"t.me",
}

// Page is one fetched page: its final URL, visible text, and the outgoing
// links discovered on it, split into same-site links and social profiles.
type Page struct {
	URL         string
	Title       string
	MetaDesc    string
	Text        string
	Links       []string
	SocialLinks []string
}

// Fetcher retrieves a single page. It has no knowledge of jobs or modes.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// HTTPFetcher fetches pages over plain HTTP with a politeness rate limiter
// shared across all crawls in the process.
type HTTPFetcher struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher with the given per-fetch timeout and
// outbound request rate cap.
func NewHTTPFetcher(fetchTimeout time.Duration, requestsPerSecond float64) *HTTPFetcher {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 4
	}
	return &HTTPFetcher{
		http: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
}

// Fetch retrieves rawURL, trying scheme and www host variants before giving
// up. The returned page carries the final URL after redirects.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}

	var lastErr error
	for _, candidate := range fetchCandidates(normalized) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limit wait")
		}

		page, err := f.fetchOne(ctx, candidate)
		if err != nil {
			lastErr = err
			zap.L().Debug("fetcher: candidate failed",
				zap.String("url", candidate),
				zap.Error(err),
			)
			continue
		}
		return page, nil
	}

	if lastErr == nil {
		lastErr = eris.Errorf("fetcher: no candidates for %q", rawURL)
	}
	return nil, lastErr
}

func (f *HTTPFetcher) fetchOne(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", pageURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}

	// 401/403 pages with substantial content are still worth parsing; many
	// sites front everything with a challenge page that includes metadata.
	ok := resp.StatusCode >= 200 && resp.StatusCode < 400
	if !ok && !((resp.StatusCode == 401 || resp.StatusCode == 403) && len(body) > 500) {
		return nil, eris.Errorf("fetcher: status %d for %s", resp.StatusCode, pageURL)
	}

	finalURL := resp.Request.URL
	page := parsePage(string(body), finalURL)
	page.URL = finalURL.String()
	return page, nil
}

// fetchCandidates lists URL variants to try in order: the URL as given, the
// opposite scheme, and the www/no-www forms.
func fetchCandidates(normalized string) []string {
	u, err := url.Parse(normalized)
	if err != nil {
		return []string{normalized}
	}

	host := u.Host
	noWWW := strings.TrimPrefix(host, "www.")
	withWWW := host
	if !strings.HasPrefix(host, "www.") {
		withWWW = "www." + host
	}

	var out []string
	seen := make(map[string]bool)
	add := func(scheme, h string) {
		v := *u
		v.Scheme = scheme
		v.Host = h
		s := v.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	add(u.Scheme, host)
	add(otherScheme(u.Scheme), host)
	add("https", withWWW)
	add("https", noWWW)
	return out
}

func otherScheme(s string) string {
	if s == "http" {
		return "https"
	}
	return "http"
}

// parsePage extracts the title, meta description, visible text, and outgoing
// links from an HTML document.
func parsePage(body string, base *url.URL) *Page {
	page := &Page{}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		// Not parseable as HTML; keep the raw body as text.
		page.Text = collapseWhitespace(body)
		return page
	}

	var text strings.Builder
	linkSeen := make(map[string]bool)
	socialSeen := make(map[string]bool)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if n.FirstChild != nil && page.Title == "" {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				if metaName(n) == "description" || metaProperty(n) == "og:description" {
					if page.MetaDesc == "" {
						page.MetaDesc = attr(n, "content")
					}
				}
			case "a":
				if href := attr(n, "href"); href != "" {
					classifyLink(href, base, linkSeen, socialSeen, page)
				}
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				text.WriteString(t)
				text.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	page.Text = strings.TrimSpace(text.String())
	return page
}

// classifyLink resolves href against base and records it either as a social
// profile or, when same-site, as a followable link. Fragments are stripped.
func classifyLink(href string, base *url.URL, linkSeen, socialSeen map[string]bool, page *Page) {
	if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
		return
	}

	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""

	if isSocialHost(abs.Host) {
		s := abs.String()
		if !socialSeen[s] {
			socialSeen[s] = true
			page.SocialLinks = append(page.SocialLinks, s)
		}
		return
	}

	if !SameSite(abs.Host, base.Host) {
		return
	}

	s := abs.String()
	if !linkSeen[s] {
		linkSeen[s] = true
		page.Links = append(page.Links, s)
	}
}

func isSocialHost(host string) bool {
	h := strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, d := range socialDomains {
		if h == d || strings.HasSuffix(h, "."+d) {
			return true
		}
	}
	return false
}

// SameSite reports whether two hosts belong to the same site, ignoring a
// leading "www." on either side.
func SameSite(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") ==
		strings.TrimPrefix(strings.ToLower(b), "www.")
}

// NormalizeURL ensures a scheme and a non-empty path.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.New("empty url")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", eris.Errorf("no host in %q", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// CanonicalKey reduces a URL to host+path+query for visited-set dedup:
// scheme and fragment are dropped, the host is lowercased and www-stripped,
// and a trailing slash is trimmed. The query is kept because it can address
// a distinct page.
func CanonicalKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimSuffix(u.Path, "/")
	if u.RawQuery != "" {
		return host + path + "?" + u.RawQuery
	}
	return host + path
}

func metaName(n *html.Node) string     { return attr(n, "name") }
func metaProperty(n *html.Node) string { return attr(n, "property") }

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
