package evidence

import (
	"net/url"
	"strings"

	"github.com/ppiankov/verdict/internal/model"
)

// AuthorityConfig lists domains by authority tier
type AuthorityConfig struct {
	PrimaryDomains   []string          `yaml:"primary_domains"`
	SecondaryDomains []string          `yaml:"secondary_domains"`
	DomainMap        map[string]string `yaml:"domain_map,omitempty"` // host -> tier, checked first
}

// DefaultAuthorityConfig covers the public-health, civic and fact-checking
// sources moderation evidence usually comes from
func DefaultAuthorityConfig() AuthorityConfig {
	return AuthorityConfig{
		PrimaryDomains: []string{
			"who.int", "cdc.gov", "nih.gov", "fda.gov", "europa.eu", "usa.gov",
			"sec.gov", "federalreserve.gov", "doi.org", "pubmed.ncbi.nlm.nih.gov",
		},
		SecondaryDomains: []string{
			"wikipedia.org", "reuters.com", "apnews.com", "factcheck.org",
			"snopes.com", "politifact.com", "fullfact.org", "bbc.co.uk",
		},
	}
}

// AuthorityClassifier classifies evidence hosts into authority tiers
type AuthorityClassifier struct {
	domainMap    map[string]string
	primaryMap   map[string]bool
	secondaryMap map[string]bool
}

// NewAuthorityClassifier creates a new authority classifier
func NewAuthorityClassifier(config AuthorityConfig) *AuthorityClassifier {
	classifier := &AuthorityClassifier{
		domainMap:    make(map[string]string, len(config.DomainMap)),
		primaryMap:   make(map[string]bool),
		secondaryMap: make(map[string]bool),
	}

	for host, tier := range config.DomainMap {
		classifier.domainMap[strings.ToLower(host)] = tier
	}
	for _, domain := range config.PrimaryDomains {
		classifier.primaryMap[strings.ToLower(domain)] = true
	}
	for _, domain := range config.SecondaryDomains {
		classifier.secondaryMap[strings.ToLower(domain)] = true
	}

	return classifier
}

// Classify classifies a URL or bare host into an authority tier
func (a *AuthorityClassifier) Classify(rawURL string) model.AuthorityTier {
	host := hostOf(rawURL)
	if host == "" {
		return model.TierUnknown
	}

	if tierStr, ok := a.domainMap[host]; ok {
		return parseTierString(tierStr)
	}

	for domain := range a.primaryMap {
		if domainMatch(host, domain) {
			return model.TierPrimary
		}
	}
	for domain := range a.secondaryMap {
		if domainMatch(host, domain) {
			return model.TierSecondary
		}
	}

	// Government and academic TLDs
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return model.TierPrimary
	}

	return model.TierTertiary
}

// HostAllowed reports whether the URL's host equals or is a subdomain of an allowlist entry
func HostAllowed(rawURL string, allowlist []string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" && domainMatch(host, entry) {
			return true
		}
	}
	return false
}

func domainMatch(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// hostOf returns the lowercase host without port; bare hosts are accepted
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// parseTierString converts a tier string to AuthorityTier
func parseTierString(tier string) model.AuthorityTier {
	switch strings.ToLower(tier) {
	case "primary", "1":
		return model.TierPrimary
	case "secondary", "2":
		return model.TierSecondary
	default:
		return model.TierTertiary
	}
}
