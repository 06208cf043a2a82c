package extract

import (
	"strings"
	"time"

	"github.com/dataharvest/harvester/internal/model"
)

// Assemble finalizes an extracted profile against its crawl: fills identity
// fields the model could not know, then grades the evidence into a
// verification status. The profile is modified in place and returned.
//
// Verified requires address evidence plus a contact value that actually
// appears in the crawled text. Partial means the identity (name + website) is
// there but the supporting evidence is not. Everything else is Unverified.
func Assemble(p *model.ExtractedProfile, crawl *model.CrawlResult, inputName string) *model.ExtractedProfile {
	if p.Website == "" && crawl != nil {
		p.Website = crawl.EntryURL()
	}
	if p.CompanyName == "" {
		p.CompanyName = strings.TrimSpace(inputName)
	}

	p.ScrapedAt = time.Now().UTC()

	switch {
	case p.HasAddressEvidence() && contactEvidenced(p, crawl):
		p.Verification = model.StatusVerified
	case p.HasIdentity():
		p.Verification = model.StatusPartial
	default:
		p.Verification = model.StatusUnverified
	}

	return p
}

// contactEvidenced reports whether any extracted phone or email value occurs
// in the crawled page text. Emails compare case-insensitively; phones compare
// by digit sequence so formatting differences don't matter.
func contactEvidenced(p *model.ExtractedProfile, crawl *model.CrawlResult) bool {
	if crawl == nil || !p.HasContact() {
		return false
	}
	text := strings.ToLower(crawl.AllText())

	for _, email := range splitValues(p.Email) {
		if strings.Contains(text, strings.ToLower(email)) {
			return true
		}
	}

	textDigits := digitsOf(text)
	for _, phone := range splitValues(p.Phone) {
		if d := digitsOf(phone); len(d) >= 8 && strings.Contains(textDigits, d) {
			return true
		}
	}
	return false
}

func splitValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
