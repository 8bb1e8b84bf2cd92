package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const (
	webFetchTimeout   = 30 * time.Second
	webFetchMaxBytes  = 5 << 20
	webFetchMaxOutput = 50000
)

const webFetchDescription = `Fetches a URL and returns its content.

Usage:
- HTML pages are converted to markdown
- Other text content is returned as-is, truncated when very large`

// WebFetchTool fetches web pages.
type WebFetchTool struct {
	client *http.Client
}

// WebFetchInput is the webFetch tool's arguments.
type WebFetchInput struct {
	URL string `json:"url"`
}

// NewWebFetchTool creates the webFetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: webFetchTimeout}}
}

func (t *WebFetchTool) Name() string             { return "webFetch" }
func (t *WebFetchTool) Description() string      { return webFetchDescription }
func (t *WebFetchTool) Capabilities() Capability { return CapNetwork }

func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The URL to fetch"
			}
		},
		"required": ["url"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params WebFetchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		return nil, fmt.Errorf("url must be http or https")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("bad url: %w", err)
	}
	req.Header.Set("User-Agent", "cowork-agent/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", params.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: status %d", params.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	output := string(body)
	if strings.Contains(contentType, "text/html") {
		output, err = htmlToMarkdown(output)
		if err != nil {
			return nil, fmt.Errorf("convert html: %w", err)
		}
	}
	if len(output) > webFetchMaxOutput {
		output = output[:webFetchMaxOutput] + "\n\n(Content truncated)"
	}

	return &Result{
		Title:  params.URL,
		Output: output,
		Metadata: map[string]any{
			"url":         params.URL,
			"contentType": contentType,
			"bytes":       len(body),
		},
	}, nil
}

// htmlToMarkdown strips non-content elements and converts the remainder.
func htmlToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, svg, nav, footer").Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", err
	}

	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(cleaned)
}
