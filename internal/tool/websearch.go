package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	webSearchTimeout    = 20 * time.Second
	webSearchMaxResults = 10
	webSearchUserAgent  = "Mozilla/5.0 (compatible; cowork-agent/1.0)"
)

const webSearchDescription = `Searches the web and returns titles, URLs and snippets.

Usage:
- query is required
- Results come from the DuckDuckGo HTML endpoint; no API key needed`

// WebSearchTool searches the web.
type WebSearchTool struct {
	client *http.Client
}

// WebSearchInput is the webSearch tool's arguments.
type WebSearchInput struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// NewWebSearchTool creates the webSearch tool.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{client: &http.Client{Timeout: webSearchTimeout}}
}

func (t *WebSearchTool) Name() string             { return "webSearch" }
func (t *WebSearchTool) Description() string      { return webSearchDescription }
func (t *WebSearchTool) Capabilities() Capability { return CapNetwork }

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query"
			},
			"count": {
				"type": "integer",
				"description": "Maximum number of results (default 5)"
			}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params WebSearchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	count := params.Count
	if count <= 0 {
		count = 5
	}
	if count > webSearchMaxResults {
		count = webSearchMaxResults
	}

	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(params.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", webSearchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	results, err := parseDDGResults(string(body), count)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	if len(results) == 0 {
		sb.WriteString("No results found")
	}

	return &Result{
		Title:  fmt.Sprintf("Searched: %s", params.Query),
		Output: sb.String(),
		Metadata: map[string]any{
			"query": params.Query,
			"count": len(results),
		},
	}, nil
}

// parseDDGResults extracts results from the DuckDuckGo HTML page.
func parseDDGResults(html string, count int) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a")
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		snippet := strings.TrimSpace(sel.Find(".result__snippet").Text())
		if href == "" || title == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     unwrapDDGRedirect(href),
			Snippet: snippet,
		})
		return len(results) < count
	})
	return results, nil
}

// unwrapDDGRedirect extracts the destination from DDG's uddg redirect links.
func unwrapDDGRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if dest := u.Query().Get("uddg"); dest != "" {
		return dest
	}
	return raw
}
