package fallback

import (
	"net/url"
	"strings"
)

const defaultPollinationsURL = "https://image.pollinations.ai"

// Pollinations builds image URLs for the Pollinations text-to-image service.
// The URL itself is the request, so nothing is fetched here.
type Pollinations struct {
	baseURL string
}

// NewPollinations creates a Pollinations URL builder
func NewPollinations(baseURL string) *Pollinations {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultPollinationsURL
	}
	return &Pollinations{baseURL: baseURL}
}

// Generate returns the image locator for prompt with empty provider metadata
func (p *Pollinations) Generate(prompt string) map[string]interface{} {
	return map[string]interface{}{
		"image_url": p.URL(prompt),
		"metadata":  map[string]interface{}{},
	}
}

// URL embeds the percent-encoded prompt into the templated address
func (p *Pollinations) URL(prompt string) string {
	return p.baseURL + "/prompt/" + url.PathEscape(prompt)
}
