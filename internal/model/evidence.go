package model

// EvidenceItem is a single piece of evidence retrieved for a claim
type EvidenceItem struct {
	Text           string         `json:"text"`
	Source         string         `json:"source"`                   // Corpus document id or host
	SourceQuality  string         `json:"source_quality,omitempty"` // primary, secondary, tertiary, unknown
	URL            string         `json:"url,omitempty"`
	RelevanceScore float64        `json:"relevance_score"` // 0-1
	Stance         Stance         `json:"stance"`
	Origin         EvidenceOrigin `json:"origin"`
}

// Stance is the relation of an evidence item to its claim
type Stance string

const (
	StanceSupporting    Stance = "supporting"
	StanceContradicting Stance = "contradicting"
	StanceContextual    Stance = "contextual"
)

// ParseStance maps free-form stance labels; anything unrecognized is contextual.
func ParseStance(s string) Stance {
	switch Stance(s) {
	case StanceSupporting, "supports", "support":
		return StanceSupporting
	case StanceContradicting, "contradicts", "refutes":
		return StanceContradicting
	default:
		return StanceContextual
	}
}

// EvidenceOrigin distinguishes internal corpus hits from external search hits
type EvidenceOrigin string

const (
	OriginInternal EvidenceOrigin = "internal"
	OriginExternal EvidenceOrigin = "external"
)

// AuthorityTier represents the classification of source authority
type AuthorityTier int

const (
	TierUnknown   AuthorityTier = 0 // Not yet classified
	TierPrimary   AuthorityTier = 1 // Government, academic, official health bodies
	TierSecondary AuthorityTier = 2 // Encyclopedias, fact-checkers, major publishers
	TierTertiary  AuthorityTier = 3 // Everything else
)

func (t AuthorityTier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return "unknown"
	}
}

// ClaimEvidence groups the evidence retrieved for one claim
type ClaimEvidence struct {
	ClaimIndex      int            `json:"claim_ref"`
	Items           []EvidenceItem `json:"items"`
	NoveltyScore    float64        `json:"novelty_score"`
	ExternalQueried bool           `json:"external_queried"`
}

// HasItems reports whether any claim in the set received evidence.
func HasItems(evidence []ClaimEvidence) bool {
	for _, ce := range evidence {
		if len(ce.Items) > 0 {
			return true
		}
	}
	return false
}
