package evidence

import (
	"testing"

	"github.com/ppiankov/verdict/internal/model"
)

func TestAuthorityClassifier_Domains(t *testing.T) {
	classifier := NewAuthorityClassifier(AuthorityConfig{
		PrimaryDomains:   []string{"who.int", "doi.org"},
		SecondaryDomains: []string{"wikipedia.org", "reuters.com"},
	})

	tests := []struct {
		url      string
		expected model.AuthorityTier
		desc     string
	}{
		{url: "https://who.int/news", expected: model.TierPrimary, desc: "Primary domain exact match"},
		{url: "https://www.who.int/news-room/fact-sheets", expected: model.TierPrimary, desc: "Primary domain with subdomain"},
		{url: "https://doi.org/10.1234/example", expected: model.TierPrimary, desc: "DOI primary source"},
		{url: "https://en.wikipedia.org/wiki/Measles", expected: model.TierSecondary, desc: "Wikipedia secondary source"},
		{url: "https://www.reuters.com/world/", expected: model.TierSecondary, desc: "Wire service secondary source"},
		{url: "https://notwho.int/fake", expected: model.TierTertiary, desc: "Suffix without dot boundary is not a match"},
		{url: "https://example.com/blog/post", expected: model.TierTertiary, desc: "Unlisted host"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			result := classifier.Classify(tt.url)
			if result != tt.expected {
				t.Errorf("Expected %v for %s, got %v", tt.expected, tt.url, result)
			}
		})
	}
}

func TestAuthorityClassifier_TLDHeuristics(t *testing.T) {
	classifier := NewAuthorityClassifier(AuthorityConfig{})

	tests := []struct {
		url      string
		expected model.AuthorityTier
		desc     string
	}{
		{url: "https://whitehouse.gov/statements", expected: model.TierPrimary, desc: ".gov TLD should be primary"},
		{url: "https://mit.edu/research", expected: model.TierPrimary, desc: ".edu TLD should be primary"},
		{url: "https://oxford.ac.uk/research", expected: model.TierPrimary, desc: ".ac.uk TLD should be primary (UK academic)"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			result := classifier.Classify(tt.url)
			if result != tt.expected {
				t.Errorf("Expected %v for %s, got %v", tt.expected, tt.url, result)
			}
		})
	}
}

func TestAuthorityClassifier_DomainMap(t *testing.T) {
	classifier := NewAuthorityClassifier(AuthorityConfig{
		PrimaryDomains: []string{"example.gov"},
		DomainMap: map[string]string{
			"example.gov": "tertiary",
			"nytimes.com": "secondary",
		},
	})

	if got := classifier.Classify("https://example.gov/page"); got != model.TierTertiary {
		t.Errorf("domain map should win over domain lists, got %v", got)
	}
	if got := classifier.Classify("nytimes.com"); got != model.TierSecondary {
		t.Errorf("bare host should be classified, got %v", got)
	}
}

func TestAuthorityClassifier_InvalidURL(t *testing.T) {
	classifier := NewAuthorityClassifier(DefaultAuthorityConfig())

	if got := classifier.Classify(""); got != model.TierUnknown {
		t.Errorf("Expected unknown for empty URL, got %v", got)
	}
	if got := classifier.Classify("https://%zz"); got != model.TierUnknown {
		t.Errorf("Expected unknown for unparsable URL, got %v", got)
	}
}

func TestHostAllowed(t *testing.T) {
	allowlist := []string{"wikipedia.org", " CDC.gov "}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://en.wikipedia.org/wiki/Vaccine", true},
		{"https://wikipedia.org/", true},
		{"https://www.cdc.gov/measles", true},
		{"https://fakewikipedia.org/wiki/Vaccine", false},
		{"https://wikipedia.org.evil.com/", false},
		{"https://example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := HostAllowed(tt.url, allowlist); got != tt.want {
			t.Errorf("HostAllowed(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}

	if HostAllowed("https://en.wikipedia.org", nil) {
		t.Error("empty allowlist must reject every host")
	}
}
