package model

import (
	"strings"
	"time"
)

// VerificationStatus summarizes how much supporting evidence a profile has.
type VerificationStatus string

const (
	// StatusVerified means both an address-bearing field and a contact field
	// were found, and the contact value appears in the crawled page text.
	StatusVerified VerificationStatus = "Verified"
	// StatusPartial means the company identity (name, website) is present but
	// contact/address evidence is missing.
	StatusPartial VerificationStatus = "Partial"
	// StatusUnverified means not even the identity fields were recovered.
	StatusUnverified VerificationStatus = "Unverified"
)

// ProfileHeaders is the fixed export column order. Every producer and consumer
// of ExtractedProfile depends on this order staying stable; it is what makes
// single, bulk, and session outputs mergeable into one table.
var ProfileHeaders = []string{
	"Company Name",
	"Website",
	"Industry",
	"Description",
	"Services",
	"Address",
	"Country",
	"State",
	"City",
	"Postal Code",
	"Phone",
	"Email",
	"Social Media Links",
	"Founders/Key People",
	"Verification Status",
}

// ExtractedProfile is the fixed-schema record produced for one company.
// Missing fields stay empty strings; they are never fabricated.
type ExtractedProfile struct {
	CompanyName  string             `json:"Company Name"`
	Website      string             `json:"Website"`
	Industry     string             `json:"Industry"`
	Description  string             `json:"Description"`
	Services     string             `json:"Services"`
	Address      string             `json:"Address"`
	Country      string             `json:"Country"`
	State        string             `json:"State"`
	City         string             `json:"City"`
	PostalCode   string             `json:"Postal Code"`
	Phone        string             `json:"Phone"`
	Email        string             `json:"Email"`
	SocialLinks  []string           `json:"Social Media Links"`
	KeyPeople    string             `json:"Founders/Key People"`
	Verification VerificationStatus `json:"Verification Status"`

	// ScrapedAt records when the profile was assembled. It is export metadata,
	// not part of the fixed extraction schema.
	ScrapedAt time.Time `json:"scraped_at,omitempty"`
}

// Row renders the profile as export cells in ProfileHeaders order.
func (p ExtractedProfile) Row() []string {
	return []string{
		p.CompanyName,
		p.Website,
		p.Industry,
		p.Description,
		p.Services,
		p.Address,
		p.Country,
		p.State,
		p.City,
		p.PostalCode,
		p.Phone,
		p.Email,
		strings.Join(p.SocialLinks, ", "),
		p.KeyPeople,
		string(p.Verification),
	}
}

// HasAddressEvidence reports whether any address-bearing field is populated.
func (p ExtractedProfile) HasAddressEvidence() bool {
	return p.Address != "" || p.City != "" || p.State != "" ||
		p.Country != "" || p.PostalCode != ""
}

// HasContact reports whether a phone or email was recovered.
func (p ExtractedProfile) HasContact() bool {
	return p.Phone != "" || p.Email != ""
}

// HasIdentity reports whether the company identity fields are present.
func (p ExtractedProfile) HasIdentity() bool {
	return p.CompanyName != "" && p.Website != ""
}
