package evidence

import (
	"context"

	"github.com/ppiankov/verdict/internal/model"
)

// Source searches the internal evidence corpus. RelevanceScore of returned
// items must lie in [0,1].
type Source interface {
	Search(ctx context.Context, query string, topK int) ([]model.EvidenceItem, error)
}

// ExternalSource searches the open web, returning only items whose host is
// covered by the allowlist.
type ExternalSource interface {
	Search(ctx context.Context, query string, allowlist []string) ([]model.EvidenceItem, error)
}
