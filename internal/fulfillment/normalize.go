package fulfillment

import (
	"fmt"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	defaultTitle = "No title"
	defaultBody  = "No description"
	defaultHref  = "#"
)

// NormalizeItem maps a raw provider hit onto the canonical result shape.
// "snippet" stands in for "body" and "url" for "href".
func NormalizeItem(raw map[string]interface{}) types.SearchResult {
	return NormalizeResult(types.SearchResult{
		Title: firstText(raw, "title"),
		Body:  firstText(raw, "body", "snippet"),
		Href:  firstString(raw, "href", "url"),
	})
}

// NormalizeResult fills defaults into an already canonical result
func NormalizeResult(r types.SearchResult) types.SearchResult {
	if r.Title == "" {
		r.Title = defaultTitle
	}
	if r.Body == "" {
		r.Body = defaultBody
	}
	if r.Href == "" {
		r.Href = defaultHref
	}
	return r
}

// NormalizeResults normalizes results and keeps at most limit of them
func NormalizeResults(results []types.SearchResult, limit int) []types.SearchResult {
	if limit < 0 {
		limit = 0
	}
	out := make([]types.SearchResult, 0, min(len(results), limit))
	for _, r := range results {
		if len(out) >= limit {
			break
		}
		out = append(out, NormalizeResult(r))
	}
	return out
}

// rawResults extracts the "results" list of a primary search payload
func rawResults(payload map[string]interface{}) ([]types.SearchResult, error) {
	list, ok := payload["results"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed search payload: results is %T", payload["results"])
	}
	out := make([]types.SearchResult, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("malformed search payload: results[%d] is %T", i, item)
		}
		out = append(out, NormalizeItem(m))
	}
	return out, nil
}

// NormalizeImage builds the canonical image result from a provider payload
func NormalizeImage(prompt string, method types.Method, payload map[string]interface{}, params types.ImageParams) *types.ImageResult {
	metadata := make(map[string]interface{})
	if provided, ok := payload["metadata"].(map[string]interface{}); ok {
		for k, v := range provided {
			metadata[k] = v
		}
	}
	if id, ok := payload["generation_id"]; ok && id != nil {
		metadata["generation_id"] = id
	}
	metadata["requested_params"] = map[string]interface{}{
		"width":    params.Width,
		"height":   params.Height,
		"steps":    params.Steps,
		"guidance": params.Guidance,
	}

	return &types.ImageResult{
		Prompt:           prompt,
		ImageURL:         firstString(payload, "image_url"),
		ImageData:        firstString(payload, "image_data"),
		GenerationMethod: method,
		Metadata:         metadata,
	}
}

// firstString returns the first non-empty string among keys. Locators must
// be strings, so other types are skipped.
func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// firstText is like firstString but renders scalars such as numbers
func firstText(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil, map[string]interface{}, []interface{}:
		default:
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}
