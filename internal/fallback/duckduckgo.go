// Package fallback provides the secondary providers used when a primary
// MCP tool is unavailable.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const defaultDuckDuckGoURL = "https://api.duckduckgo.com/"

// DuckDuckGo queries the public instant-answer API
type DuckDuckGo struct {
	baseURL  string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
}

// NewDuckDuckGo creates a DuckDuckGo fallback search client
func NewDuckDuckGo(baseURL string, timeout time.Duration, retry RetryConfig) *DuckDuckGo {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultDuckDuckGoURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DuckDuckGo{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		executor: newExecutor(retry),
	}
}

type relatedTopic struct {
	Text     string         `json:"Text"`
	FirstURL string         `json:"FirstURL"`
	Name     string         `json:"Name"`
	Topics   []relatedTopic `json:"Topics"`
}

type instantAnswer struct {
	RelatedTopics []relatedTopic `json:"RelatedTopics"`
}

// Search fetches related topics for query and maps at most maxResults of them
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	endpoint, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo url: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("format", "json")
	endpoint.RawQuery = q.Encode()

	resp, err := d.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("create duckduckgo request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("duckduckgo request failed: %w", err)
		}
		return checkStatus(resp)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode duckduckgo response: %w", err)
	}

	results := make([]types.SearchResult, 0, maxResults)
	for _, topic := range flatten(decoded.RelatedTopics) {
		if len(results) >= maxResults {
			break
		}
		title := topic.Text
		if title == "" {
			title = "No title"
		}
		href := topic.FirstURL
		if href == "" {
			href = "#"
		}
		results = append(results, types.SearchResult{
			Title: title,
			Href:  href,
			Body:  topic.Text,
		})
	}

	log.Debug().
		Str("query", query).
		Int("topics", len(decoded.RelatedTopics)).
		Int("results", len(results)).
		Msg("DuckDuckGo fallback search completed")

	return results, nil
}

// flatten expands topic groups into their member topics, preserving order
func flatten(topics []relatedTopic) []relatedTopic {
	out := make([]relatedTopic, 0, len(topics))
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, flatten(t.Topics)...)
			continue
		}
		out = append(out, t)
	}
	return out
}
