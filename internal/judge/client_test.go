package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/rules"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestJudge_Verdict(t *testing.T) {
	var got chatRequest
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply(`{"verdict": true, "reasoning": "no greeting"}`))
	})

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", Model: "gpt-test"}, nil)
	res, err := c.Judge(context.Background(), rules.JudgeRequest{
		Instruction: "Did the manager skip the greeting?",
		Text:        "yes what",
		SubjectKey:  "call:c1",
	})
	require.NoError(t, err)
	assert.True(t, res.Verdict)
	assert.Equal(t, "no greeting", res.Reasoning)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "Did the manager skip the greeting?")
	assert.Contains(t, got.Messages[1].Content, "yes what")
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestJudge_FencedJSON(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply("```json\n{\"verdict\": false, \"reasoning\": \"fine\"}\n```"))
	})

	res, err := NewClient(Config{BaseURL: srv.URL}, nil).Judge(context.Background(), rules.JudgeRequest{Text: "x"})
	require.NoError(t, err)
	assert.False(t, res.Verdict)
}

func TestJudge_Malformed(t *testing.T) {
	tests := map[string]any{
		"not json":        chatReply("I think yes"),
		"missing verdict": chatReply(`{"reasoning": "?"}`),
		"no choices":      map[string]any{"choices": []any{}},
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(reply)
			})
			_, err := NewClient(Config{BaseURL: srv.URL}, nil).Judge(context.Background(), rules.JudgeRequest{Text: "x"})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestJudge_ErrorStatus(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	})

	_, err := NewClient(Config{BaseURL: srv.URL}, nil).Judge(context.Background(), rules.JudgeRequest{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestJudge_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": {"message": "overloaded"}}`))
			return
		}
		json.NewEncoder(w).Encode(chatReply(`{"verdict": false, "reasoning": "greeted"}`))
	})

	res, err := NewClient(Config{BaseURL: srv.URL, RetryCount: 2}, nil).Judge(context.Background(), rules.JudgeRequest{Text: "x"})
	require.NoError(t, err)
	assert.False(t, res.Verdict)
	assert.Equal(t, int32(2), hits.Load())
}

func TestJudge_ClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad model"}}`))
	})

	_, err := NewClient(Config{BaseURL: srv.URL, RetryCount: 2}, nil).Judge(context.Background(), rules.JudgeRequest{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), hits.Load())
}

func TestJudge_Timeout(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	})

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	_, err := c.Judge(context.Background(), rules.JudgeRequest{Text: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}
