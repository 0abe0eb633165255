package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/troupehq/troupe/pkg/version"
)

// maxCrawlBytes caps how much of a fetched page is returned.
const maxCrawlBytes = 512 << 10

// defaultWebPerMinute is the token-bucket rate applied when none is configured.
const defaultWebPerMinute = 5

// WebConfig configures the web tool pair.
type WebConfig struct {
	CrawlerPerMinute int
	SearchPerMinute  int
	RequestTimeout   time.Duration
	SearchEndpoint   string
	SearchAPIKey     string
}

// WebTools owns the process-wide state behind the crawler and search
// tools: one HTTP client and one token-bucket limiter per tool. Every
// agent's descriptors share these limiters, so the per-minute budget is
// global to the process.
type WebTools struct {
	client         *http.Client
	crawlerLimiter *rate.Limiter
	searchLimiter  *rate.Limiter
	searchEndpoint string
	searchAPIKey   string
}

// NewWebTools creates the shared web tool state.
func NewWebTools(cfg WebConfig) *WebTools {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebTools{
		client:         &http.Client{Timeout: timeout},
		crawlerLimiter: newMinuteLimiter(cfg.CrawlerPerMinute),
		searchLimiter:  newMinuteLimiter(cfg.SearchPerMinute),
		searchEndpoint: cfg.SearchEndpoint,
		searchAPIKey:   cfg.SearchAPIKey,
	}
}

// newMinuteLimiter builds a token bucket admitting n requests per minute
// with no burst.
func newMinuteLimiter(n int) *rate.Limiter {
	if n <= 0 {
		n = defaultWebPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
}

// Crawler returns a fresh crawler descriptor bound to the shared limiter.
// Each agent registers its own descriptor; the rate budget stays global.
func (w *WebTools) Crawler() *Tool {
	return &Tool{
		Name:        NameCrawler,
		Description: "Fetch a web page and return its raw content.",
		Params: map[string]Param{
			"url": {Type: "string", Required: true, Description: "Absolute http(s) URL to fetch."},
		},
		Outputs: map[string]string{
			"result": "The response body, truncated past 512KiB.",
			"status": "HTTP status code.",
		},
		MaxRetries: 2,
		RetryDelay: time.Second,
		Invoke:     w.crawl,
	}
}

func (w *WebTools) crawl(ctx context.Context, params map[string]any) (map[string]any, error) {
	rawURL, _ := params["url"].(string)
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("crawler requires an absolute http(s) url, got %q", rawURL)
	}

	if err := w.crawlerLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("crawler rate wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.Full())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCrawlBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return map[string]any{
		"result": string(body),
		"status": resp.StatusCode,
	}, nil
}

// Search returns a fresh search descriptor bound to the shared limiter.
func (w *WebTools) Search() *Tool {
	return &Tool{
		Name:        NameSearch,
		Description: "Search the web and return the top results.",
		Params: map[string]Param{
			"query": {Type: "string", Required: true, Description: "The search query."},
			"limit": {Type: "int", Default: 5, Description: "Maximum number of results."},
		},
		Outputs: map[string]string{
			"result": "Numbered result list with title, URL and snippet.",
			"count":  "Number of results returned.",
		},
		MaxRetries: 2,
		RetryDelay: time.Second,
		Invoke:     w.search,
	}
}

// searchResult is one entry in the search API's response.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (w *WebTools) search(ctx context.Context, params map[string]any) (map[string]any, error) {
	if w.searchEndpoint == "" {
		return nil, fmt.Errorf("search endpoint not configured")
	}
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search requires a non-empty query")
	}
	limit := intParam(params, "limit", 5)

	if err := w.searchLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate wait: %w", err)
	}

	payload, err := json.Marshal(map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.searchEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if w.searchAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.searchAPIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned HTTP %d", resp.StatusCode)
	}

	var decoded struct {
		Results []searchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(decoded.Results) > limit {
		decoded.Results = decoded.Results[:limit]
	}

	var sb strings.Builder
	for i, r := range decoded.Results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s", i+1, r.Title, r.URL, r.Snippet)
	}
	if sb.Len() == 0 {
		sb.WriteString("No results.")
	}

	return map[string]any{
		"result": sb.String(),
		"count":  len(decoded.Results),
	}, nil
}

// intParam reads an int-ish parameter, tolerating JSON's float64 decoding.
func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
