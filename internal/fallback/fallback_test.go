package fallback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

const capitalOfFrance = `{
  "Heading": "Capital of France",
  "RelatedTopics": [
    {"Text": "Paris - capital and largest city of France.", "FirstURL": "https://duckduckgo.com/Paris"},
    {"Text": "Versailles - former de facto capital.", "FirstURL": "https://duckduckgo.com/Versailles"}
  ]
}`

func TestDuckDuckGo_Search(t *testing.T) {
	var gotQuery, gotFormat string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(capitalOfFrance))
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(ts.URL, time.Second, fastRetry())
	results, err := ddg.Search(context.Background(), "capital of france", 3)
	require.NoError(t, err)

	assert.Equal(t, "capital of france", gotQuery)
	assert.Equal(t, "json", gotFormat)
	require.Len(t, results, 2)
	assert.Equal(t, "Paris - capital and largest city of France.", results[0].Title)
	assert.Equal(t, "Paris - capital and largest city of France.", results[0].Body)
	assert.Equal(t, "https://duckduckgo.com/Paris", results[0].Href)
}

func TestDuckDuckGo_Search_CapsAndFlattens(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"RelatedTopics":[
			{"Text":"a","FirstURL":"https://a"},
			{"Name":"Group","Topics":[{"Text":"b","FirstURL":"https://b"},{"Text":"c"}]},
			{"FirstURL":"https://d"}
		]}`))
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(ts.URL, time.Second, fastRetry())

	results, err := ddg.Search(context.Background(), "letters", 10)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "b", results[1].Title)
	assert.Equal(t, "#", results[2].Href)
	assert.Equal(t, "No title", results[3].Title)
	assert.Equal(t, "", results[3].Body)

	results, err = ddg.Search(context.Background(), "letters", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDuckDuckGo_Search_RetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(capitalOfFrance))
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(ts.URL, time.Second, fastRetry())
	results, err := ddg.Search(context.Background(), "capital of france", 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDuckDuckGo_Search_GivesUp(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(ts.URL, time.Second, fastRetry())
	_, err := ddg.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls)) // first attempt + 2 retries
}

func TestDuckDuckGo_Search_NoRetryOnClientError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(ts.URL, time.Second, fastRetry())
	_, err := ddg.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDuckDuckGo_Search_BadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	defer ts.Close()

	ddg := NewDuckDuckGo(ts.URL, time.Second, fastRetry())
	_, err := ddg.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode duckduckgo response")
}

func TestStatusError_Retryable(t *testing.T) {
	assert.True(t, (&StatusError{StatusCode: 429}).Retryable())
	assert.True(t, (&StatusError{StatusCode: 504}).Retryable())
	assert.False(t, (&StatusError{StatusCode: 404}).Retryable())
}

func TestPollinations_Generate(t *testing.T) {
	p := NewPollinations("")
	out := p.Generate("a red fox in snow")

	assert.Equal(t, "https://image.pollinations.ai/prompt/a%20red%20fox%20in%20snow", out["image_url"])
	assert.Equal(t, map[string]interface{}{}, out["metadata"])
}

func TestPollinations_URL_EscapesPathCharacters(t *testing.T) {
	p := NewPollinations("http://localhost:9999/")
	assert.Equal(t, "http://localhost:9999/prompt/cats%2Fdogs%3F%20yes", p.URL("cats/dogs? yes"))
	assert.Equal(t, p.URL("same prompt"), p.URL("same prompt"))
}
