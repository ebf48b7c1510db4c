package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/ppiankov/verdict/internal/logging"
	"github.com/ppiankov/verdict/internal/model"
	"github.com/ppiankov/verdict/internal/worker"
)

const (
	defaultSerperURL    = "https://google.serper.dev/search"
	defaultWikipediaURL = "https://en.wikipedia.org/w/api.php"
	userAgent           = "verdict/0.1 (moderation evidence lookup)"
)

// ErrNoSearchBackend is returned when neither web search backend is configured
var ErrNoSearchBackend = errors.New("no external search backend configured")

// WebSearchConfig configures the external search backends
type WebSearchConfig struct {
	SerperAPIKey string // empty disables Serper
	SerperURL    string
	WikipediaURL string // MediaWiki API endpoint; "-" disables Wikipedia
	MaxResults   int
}

// WebSearch queries Serper and Wikipedia and keeps only allowlisted hosts.
// Snippets are reduced to plain text and scored against the query.
type WebSearch struct {
	cfg        WebSearchConfig
	httpClient *http.Client
	limiter    *worker.Limiter
	authority  *AuthorityClassifier
	log        *zap.Logger
}

// NewWebSearch creates the external evidence source. limiter may be nil.
func NewWebSearch(cfg WebSearchConfig, client *http.Client, limiter *worker.Limiter, log *zap.Logger) *WebSearch {
	if cfg.SerperURL == "" {
		cfg.SerperURL = defaultSerperURL
	}
	if cfg.WikipediaURL == "" {
		cfg.WikipediaURL = defaultWikipediaURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebSearch{
		cfg:        cfg,
		httpClient: client,
		limiter:    limiter,
		authority:  NewAuthorityClassifier(DefaultAuthorityConfig()),
		log:        logging.OrNop(log),
	}
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

type wikipediaResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

// Search runs the query against every configured backend. A Serper failure
// is returned; Wikipedia failures only drop its results.
func (w *WebSearch) Search(ctx context.Context, query string, allowlist []string) ([]model.EvidenceItem, error) {
	serperEnabled := w.cfg.SerperAPIKey != ""
	wikiEnabled := w.cfg.WikipediaURL != "-"
	if !serperEnabled && !wikiEnabled {
		return nil, ErrNoSearchBackend
	}

	var items []model.EvidenceItem

	if serperEnabled {
		found, err := w.searchSerper(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("serper: %w", err)
		}
		items = append(items, found...)
	}

	if wikiEnabled {
		found, err := w.searchWikipedia(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.log.Debug("wikipedia search failed", zap.Error(err))
		}
		items = append(items, found...)
	}

	kept := make([]model.EvidenceItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !HostAllowed(item.URL, allowlist) || seen[item.URL] {
			continue
		}
		seen[item.URL] = true
		kept = append(kept, item)
		if len(kept) == w.cfg.MaxResults {
			break
		}
	}
	return kept, nil
}

func (w *WebSearch) searchSerper(ctx context.Context, query string) ([]model.EvidenceItem, error) {
	body, err := json.Marshal(serperRequest{Q: query, Num: w.cfg.MaxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.SerperURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", w.cfg.SerperAPIKey)

	var resp serperResponse
	if err := w.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	items := make([]model.EvidenceItem, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		if r.Link == "" {
			continue
		}
		items = append(items, w.item(query, r.Title, r.Snippet, r.Link))
	}
	return items, nil
}

func (w *WebSearch) searchWikipedia(ctx context.Context, query string) ([]model.EvidenceItem, error) {
	endpoint, err := url.Parse(w.cfg.WikipediaURL)
	if err != nil {
		return nil, fmt.Errorf("parse wikipedia url: %w", err)
	}
	params := endpoint.Query()
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", fmt.Sprint(w.cfg.MaxResults))
	params.Set("format", "json")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var resp wikipediaResponse
	if err := w.do(ctx, req, &resp); err != nil {
		return nil, err
	}

	items := make([]model.EvidenceItem, 0, len(resp.Query.Search))
	for _, r := range resp.Query.Search {
		page := fmt.Sprintf("https://%s/wiki/%s", wikiHost(endpoint), url.PathEscape(strings.ReplaceAll(r.Title, " ", "_")))
		items = append(items, w.item(query, r.Title, r.Snippet, page))
	}
	return items, nil
}

func (w *WebSearch) do(ctx context.Context, req *http.Request, out any) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, req.URL.String()); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (w *WebSearch) item(query, title, snippet, link string) model.EvidenceItem {
	text := strings.TrimSpace(title + ": " + plainText(snippet))
	return model.EvidenceItem{
		Text:           text,
		Source:         hostOf(link),
		SourceQuality:  w.authority.Classify(link).String(),
		URL:            link,
		RelevanceScore: textSimilarity(query, text),
		Stance:         model.StanceContextual,
		Origin:         model.OriginExternal,
	}
}

// wikiHost is the article host for an API endpoint; mirrors fall back to en.wikipedia.org
func wikiHost(endpoint *url.URL) string {
	if strings.HasSuffix(endpoint.Hostname(), "wikipedia.org") {
		return endpoint.Host
	}
	return "en.wikipedia.org"
}

// plainText drops markup from a search snippet, e.g. <span class="searchmatch">
func plainText(snippet string) string {
	if !strings.ContainsAny(snippet, "<&") {
		return strings.TrimSpace(snippet)
	}
	doc, err := html.Parse(strings.NewReader(snippet))
	if err != nil {
		return strings.TrimSpace(snippet)
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(buf.String()), " ")
}
