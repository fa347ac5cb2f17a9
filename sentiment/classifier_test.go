package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsKeyword(t *testing.T) {
	keywords := []string{"gambling", "Crypto", " "}

	testCases := []struct {
		name string
		text string
		want bool
	}{
		{"lower match", "gambling trip", true},
		{"case insensitive", "Buying CRYPTO coins", true},
		{"no match", "home renovation", false},
		{"empty text", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ContainsKeyword(tc.text, keywords))
		})
	}
}

func TestKeywordClassifierNeverFails(t *testing.T) {
	risky, err := KeywordClassifier{Keywords: []string{"casino"}}.Classify(context.Background(), "Casino weekend")
	require.NoError(t, err)
	assert.True(t, risky)
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestChatClassifierAnswers(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    bool
	}{
		{"risky answer", "RISKY", true},
		{"safe answer", " Safe ", false},
		{"verbose risky", "This looks risky to me.", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := chatServer(t, http.StatusOK, tc.content)
			defer server.Close()

			c := &ChatClassifier{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"}
			risky, err := c.Classify(context.Background(), "weekend in Vegas")
			require.NoError(t, err)
			assert.Equal(t, tc.want, risky)
		})
	}
}

func TestChatClassifierFaults(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		server := chatServer(t, http.StatusTooManyRequests, "RISKY")
		defer server.Close()

		c := &ChatClassifier{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"}
		_, err := c.Classify(context.Background(), "anything")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrClassification))

		var ce *ClassificationError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, http.StatusTooManyRequests, ce.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()

		c := &ChatClassifier{BaseURL: server.URL, APIKey: "test-key"}
		_, err := c.Classify(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrClassification)
	})

	t.Run("no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		c := &ChatClassifier{BaseURL: server.URL, APIKey: "test-key"}
		_, err := c.Classify(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrClassification)
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		c := &ChatClassifier{BaseURL: server.URL, APIKey: "test-key", Timeout: 50 * time.Millisecond}
		_, err := c.Classify(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrClassification)
	})

	t.Run("missing api key", func(t *testing.T) {
		c := &ChatClassifier{BaseURL: "http://127.0.0.1:1"}
		_, err := c.Classify(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrClassification)
	})
}
