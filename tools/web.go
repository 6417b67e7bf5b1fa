// Web Tools - search and page fetch with KV response caching
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gliderlab/coagent/pkg/kv"
	"github.com/gliderlab/coagent/plan"
)

const (
	MaxWebPageChars = 10000
	webCacheTTL     = 15 * time.Minute
)

var webClient = &http.Client{Timeout: 30 * time.Second}

// WebSearchTool queries DuckDuckGo's HTML endpoint. No filesystem
// footprint: Read/Confined with an empty path set.
type WebSearchTool struct {
	Cache *kv.KV // optional response cache
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return result titles, URLs and snippets."
}

func (t *WebSearchTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpRead, Scope: plan.ScopeConfined}
}

func (t *WebSearchTool) PathKeys() []string { return nil }

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max results (default 5)",
				"default":     5,
			},
		},
		"required": []string{"query"},
	}
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := GetString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := GetInt(args, "limit")
	if limit <= 0 || limit > 10 {
		limit = 5
	}

	cacheKey := "web:search:" + query
	if t.Cache != nil {
		if cached, err := t.Cache.Get(cacheKey); err == nil {
			var results []SearchResult
			if json.Unmarshal([]byte(cached), &results) == nil {
				if len(results) > limit {
					results = results[:limit]
				}
				return results, nil
			}
		}
	}

	body, err := fetchURL(ctx, "https://html.duckduckgo.com/html/?q="+url.QueryEscape(query))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := parseSearchResults(body, limit)

	if t.Cache != nil && len(results) > 0 {
		if data, err := json.Marshal(results); err == nil {
			t.Cache.SetWithTTL(cacheKey, string(data), webCacheTTL)
		}
	}
	return results, nil
}

var (
	resultLinkRe = regexp.MustCompile(`<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	snippetRe    = regexp.MustCompile(`<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

func parseSearchResults(body string, limit int) []SearchResult {
	links := resultLinkRe.FindAllStringSubmatch(body, limit)
	snippets := snippetRe.FindAllStringSubmatch(body, limit)

	results := make([]SearchResult, 0, len(links))
	for i, m := range links {
		r := SearchResult{
			Title: stripTags(m[2]),
			URL:   decodeResultURL(m[1]),
		}
		if i < len(snippets) {
			r.Snippet = stripTags(snippets[i][1])
		}
		results = append(results, r)
	}
	return results
}

// decodeResultURL unwraps DuckDuckGo's redirect links (uddg parameter).
func decodeResultURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

func stripTags(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#x27;", "'")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// WebFetchTool fetches a page and returns its text content.
type WebFetchTool struct {
	Cache *kv.KV
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a web page and return its text content, tags stripped."
}

func (t *WebFetchTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpRead, Scope: plan.ScopeConfined}
}

func (t *WebFetchTool) PathKeys() []string { return nil }

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to fetch (http or https)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	rawURL := GetString(args, "url")
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url: %s", rawURL)
	}

	cacheKey := "web:fetch:" + rawURL
	if t.Cache != nil {
		if cached, err := t.Cache.Get(cacheKey); err == nil {
			return cached, nil
		}
	}

	body, err := fetchURL(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	text := Truncate(stripTags(stripScripts(body)), MaxWebPageChars)
	if t.Cache != nil {
		t.Cache.SetWithTTL(cacheKey, text, webCacheTTL)
	}
	return text, nil
}

var scriptRe = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)

func stripScripts(s string) string {
	return scriptRe.ReplaceAllString(s, " ")
}

func fetchURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; coagent)")

	resp, err := webClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
