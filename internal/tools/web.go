package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
)

// screenshotMaxWidth bounds how large a captured page screenshot is before
// it is handed to a vision-capable model, keeping prompt image payloads
// small regardless of the source page's rendered resolution.
const screenshotMaxWidth = 1024

const braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

// KeyResolver resolves a symbolic secret reference to its plaintext value,
// matching the signature already used by providers.HTTPProvider so both
// can share a KeyVault resolver.
type KeyResolver func(ref string) (string, error)

// WebSearchTool queries the Brave Search API. Grounded on a prior implementation's
// internal/tools/web_search_brave.go, trimmed of its pluggable
// multi-provider (DuckDuckGo fallback) abstraction since this gateway
// wires exactly one search backend.
type WebSearchTool struct {
	APIKeyRef string
	ResolveKey KeyResolver
	client *http.Client
}

func NewWebSearchTool(apiKeyRef string, resolveKey KeyResolver) *WebSearchTool {
	return &WebSearchTool{APIKeyRef: apiKeyRef, ResolveKey: resolveKey, client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return a list of titled results with URLs." }
func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query."},
			"count": map[string]interface{}{"type": "integer", "description": "Number of results, default 5."},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	count := 5
	if c, ok := args["count"].(float64); ok && c > 0 {
		count = int(c)
	}

	apiKey, err := t.ResolveKey(t.APIKeyRef)
	if err != nil || apiKey == "" {
		return ErrorResult("web search is not configured: no Brave API key available")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, "GET", braveSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)
	apiKey = ""

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("search provider returned %d", resp.StatusCode))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title string `json:"title"`
				URL string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ErrorResult(fmt.Sprintf("parse search response: %v", err))
	}

	var b strings.Builder
	for i, r := range parsed.Web.Results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	if b.Len() == 0 {
		return SilentResult("no results found")
	}
	return SilentResult(b.String())
}

// WebFetchTool retrieves a URL's content, either as raw HTTP (default) or
// through a headless browser when render is requested — some pages need
// JS execution to produce meaningful text. Grounded in a prior internal/tools/web_fetch.go
// shape; the rod-backed render path is new since fetches
// unauthenticated HTML only.
type WebFetchTool struct {
	client *http.Client
	AllowRender bool
	MediaDir string // directory screenshots are saved to, e.g. "<workspace>/media"
}

func NewWebFetchTool(allowRender bool) *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: 20 * time.Second}, AllowRender: allowRender}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and return its text content, or a screenshot." }
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "URL to fetch."},
			"render": map[string]interface{}{"type": "boolean", "description": "Render JavaScript in a headless browser before extracting text."},
			"screenshot": map[string]interface{}{"type": "boolean", "description": "Capture a screenshot instead of extracting text; implies render."},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	target, _ := args["url"].(string)
	if target == "" {
		return ErrorResult("url is required")
	}
	render, _ := args["render"].(bool)
	screenshot, _ := args["screenshot"].(bool)

	if screenshot && t.AllowRender {
		path, err := t.fetchScreenshot(target)
		if err != nil {
			return ErrorResult(fmt.Sprintf("screenshot failed: %v", err))
		}
		return UserResult(fmt.Sprintf("captured a screenshot of %s\nMEDIA:%s", target, path))
	}

	if render && t.AllowRender {
		text, err := fetchRendered(target)
		if err != nil {
			return ErrorResult(fmt.Sprintf("rendered fetch failed: %v", err))
		}
		return SilentResult(text)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("build request: %v", err))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read response: %v", err))
	}
	return SilentResult(stripTags(string(body)))
}

// fetchRendered loads target in a headless go-rod browser and returns its
// rendered body text, for pages whose content only appears after
// JavaScript execution.
func fetchRendered(target string) (string, error) {
	browser := rod.New()
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(rod.PageInfo{URL: target})
	if err != nil {
		page, err = browser.Page(rod.PageInfo{})
		if err != nil {
			return "", fmt.Errorf("open page: %w", err)
		}
		if err := page.Navigate(target); err != nil {
			return "", fmt.Errorf("navigate: %w", err)
		}
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	body, err := page.Element("body")
	if err != nil {
		return "", fmt.Errorf("find body: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}
	return text, nil
}

// fetchScreenshot renders target in a headless browser, captures a PNG
// screenshot, downscales it with disintegration/imaging so an oversized
// page render doesn't blow up a vision model's context budget, and saves
// it under MediaDir for the channel adapter to deliver out of band.
func (t *WebFetchTool) fetchScreenshot(target string) (string, error) {
	browser := rod.New()
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(rod.PageInfo{URL: target})
	if err != nil {
		page, err = browser.Page(rod.PageInfo{})
		if err != nil {
			return "", fmt.Errorf("open page: %w", err)
		}
		if err := page.Navigate(target); err != nil {
			return "", fmt.Errorf("navigate: %w", err)
		}
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	raw, err := page.Screenshot(true, nil)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	if img.Bounds().Dx() > screenshotMaxWidth {
		img = imaging.Resize(img, screenshotMaxWidth, 0, imaging.Lanczos)
	}

	dir := t.MediaDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("fetch-%d.png", time.Now().UnixNano()))
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}
	return path, nil
}

// stripTags is a minimal HTML-to-text reduction for the non-rendered fetch
// path: it is not a full parser, just enough to keep tool output readable.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
