package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/pkg/llm"
)

var fastRetry = llm.RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   20 * time.Millisecond,
	MaxDelay:    80 * time.Millisecond,
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...llm.Option) (*llm.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	registry := llm.NewRegistry(llm.ModelSpec{
		ID:              "test-model",
		Provider:        "openai",
		BaseURL:         server.URL + "/v1",
		APIName:         "vendor/test-model",
		MaxOutputTokens: 1000,
		APIKeyEnv:       "BRIEF_TEST_API_KEY",
	})

	opts = append([]llm.Option{llm.WithRetryPolicy(fastRetry), llm.WithTimeout(2 * time.Second)}, opts...)
	return llm.NewClient(registry, opts...), &calls
}

func request() models.CompletionRequest {
	return models.CompletionRequest{
		Model: "test-model",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "You summarize."},
			{Role: models.RoleUser, Content: "Acme sells storage."},
		},
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

func TestCompleteSuccess(t *testing.T) {
	t.Setenv("BRIEF_TEST_API_KEY", "secret")

	var got map[string]any
	var auth string
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		reply(w, "  Acme sells storage products.  ")
	})

	completion, err := client.Complete(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "Acme sells storage products.", completion.Text)
	assert.Equal(t, "test-model", completion.Model)
	assert.Equal(t, 1, completion.Attempts)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "vendor/test-model", got["model"])
	// Clamped to the model's output limit.
	assert.Equal(t, float64(1000), got["max_tokens"])
	assert.Len(t, got["messages"], 2)
}

func TestCompleteStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		want     error
		attempts int32
	}{
		{"rate limited", http.StatusTooManyRequests, llm.ErrRateLimited, 3},
		{"server error", http.StatusBadGateway, llm.ErrServerError, 3},
		{"unauthorized", http.StatusUnauthorized, llm.ErrAuth, 1},
		{"forbidden", http.StatusForbidden, llm.ErrAuth, 1},
		{"bad request", http.StatusBadRequest, llm.ErrInvalidRequest, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"nope"}}`, tt.status)
			})

			_, err := client.Complete(context.Background(), request())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.attempts, calls.Load())

			var genErr *llm.GenerationError
			require.True(t, errors.As(err, &genErr))
			assert.Equal(t, tt.status, genErr.StatusCode)
		})
	}
}

// arrivals records when each request reached the server.
type arrivals struct {
	mu    sync.Mutex
	times []time.Time
}

func (a *arrivals) record() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.times = append(a.times, time.Now())
}

func (a *arrivals) gaps() []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(a.times); i++ {
		out = append(out, a.times[i].Sub(a.times[i-1]))
	}
	return out
}

func TestCompleteRateLimitedBackoff(t *testing.T) {
	const tolerance = 80 * time.Millisecond

	tests := []struct {
		name   string
		policy llm.RetryPolicy
		want   []time.Duration
	}{
		{
			name:   "doubling",
			policy: llm.RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
			want:   []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name:   "capped",
			policy: llm.RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond},
			want:   []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 150 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := &arrivals{}
			client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				seen.record()
				w.WriteHeader(http.StatusTooManyRequests)
			}, llm.WithRetryPolicy(tt.policy))

			_, err := client.Complete(context.Background(), request())
			assert.ErrorIs(t, err, llm.ErrRateLimited)
			assert.Equal(t, int32(len(tt.want)+1), calls.Load())

			gaps := seen.gaps()
			require.Len(t, gaps, len(tt.want))
			for i, want := range tt.want {
				assert.GreaterOrEqual(t, gaps[i], want, "wait %d", i+1)
				assert.Less(t, gaps[i], want+tolerance, "wait %d", i+1)
				assert.Equal(t, want, tt.policy.Backoff(i+1))
			}
		})
	}
}

func TestCompleteRecoversAfterServerError(t *testing.T) {
	var seen atomic.Int32
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if seen.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reply(w, "recovered")
	})

	completion, err := client.Complete(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "recovered", completion.Text)
	assert.Equal(t, 2, completion.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCompleteMalformedResponse(t *testing.T) {
	bodies := map[string]string{
		"not json":      "<html>oops</html>",
		"no choices":    `{"choices":[]}`,
		"empty content": `{"choices":[{"message":{"role":"assistant","content":"   "}}]}`,
		"null content":  `{"choices":[{"message":{"role":"assistant","content":null}}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			_, err := client.Complete(context.Background(), request())
			assert.ErrorIs(t, err, llm.ErrMalformedResponse)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCompleteAttemptTimeout(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, llm.WithTimeout(50*time.Millisecond))

	_, err := client.Complete(context.Background(), request())
	assert.ErrorIs(t, err, llm.ErrTimeout)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteCanceled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompleteInvalidRequest(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, "unused")
	})

	req := request()
	req.Model = "unknown-model"
	_, err := client.Complete(context.Background(), req)
	assert.ErrorIs(t, err, llm.ErrInvalidRequest)

	req = request()
	req.Messages = nil
	_, err = client.Complete(context.Background(), req)
	assert.ErrorIs(t, err, llm.ErrInvalidRequest)

	assert.Equal(t, int32(0), calls.Load())
}

func TestCompleteUnknownProvider(t *testing.T) {
	client := llm.NewClient(llm.NewRegistry(llm.ModelSpec{ID: "m", Provider: "carrier-pigeon"}))
	_, err := client.Complete(context.Background(), models.CompletionRequest{
		Model:    "m",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, llm.ErrInvalidRequest)
}

type stubBackend struct {
	errs  []error
	calls int
}

func (s *stubBackend) Generate(ctx context.Context, spec llm.ModelSpec, req models.CompletionRequest) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return "", s.errs[s.calls-1]
	}
	return "done", nil
}

func TestCompleteWrapsUntypedBackendErrors(t *testing.T) {
	backend := &stubBackend{errs: []error{errors.New("boom"), errors.New("boom")}}
	client := llm.NewClient(
		llm.NewRegistry(llm.ModelSpec{ID: "m", Provider: "stub"}),
		llm.WithBackend("stub", backend),
		llm.WithRetryPolicy(fastRetry),
	)

	completion, err := client.Complete(context.Background(), models.CompletionRequest{
		Model:    "m",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", completion.Text)
	assert.Equal(t, 3, backend.calls)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := llm.DefaultRetryPolicy()
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
}

func TestRegistry(t *testing.T) {
	r := llm.NewRegistry(
		llm.ModelSpec{ID: "b", Provider: "ollama"},
		llm.ModelSpec{ID: "a", Provider: "openai"},
	)
	assert.False(t, r.Register(llm.ModelSpec{ID: "a", Provider: "ollama"}))
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	spec, err := r.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "openai", spec.Provider)

	_, err = r.Resolve("c")
	assert.ErrorIs(t, err, llm.ErrInvalidRequest)
}
