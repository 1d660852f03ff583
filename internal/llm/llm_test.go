package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/model"
)

const goodContent = `{"questionText": "What is the unit of electric field?", "options": [{"id": "A", "text": "N/C"}, {"id": "B", "text": "J"}, {"id": "C", "text": "W"}], "correctAnswer": "A", "explanation": "Force per unit charge."}`

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

// newTestClient serves each request with the next status/content pair; the
// last pair repeats.
func newTestClient(t *testing.T, maxRetries int, replies ...reply) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(replies) {
			n = len(replies) - 1
		}
		rp := replies[n]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rp.status)
		if rp.status != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "upstream says no", "type": "server_error"}})
			return
		}
		json.NewEncoder(w).Encode(chatResponse(rp.content))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL+"/v1", "test-key", "test-model", maxRetries)
	c.retryInterval = time.Millisecond
	return c, &calls
}

type reply struct {
	status  int
	content string
}

var req = assessment.GenerationRequest{SystemPrompt: "sys", UserPrompt: "user", Temperature: 0.5}

func TestGenerate(t *testing.T) {
	c, calls := newTestClient(t, 2, reply{http.StatusOK, goodContent})
	got, err := c.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got.CorrectAnswer != "A" || len(got.Options) != 3 || got.QuestionText == "" {
		t.Errorf("Generate = %+v", got)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGenerateRetries(t *testing.T) {
	tests := []struct {
		name      string
		replies   []reply
		wantCalls int32
	}{
		{"server error then success", []reply{{http.StatusInternalServerError, ""}, {http.StatusOK, goodContent}}, 2},
		{"rate limited then success", []reply{{http.StatusTooManyRequests, ""}, {http.StatusOK, goodContent}}, 2},
		{"bad json then success", []reply{{http.StatusOK, "not json"}, {http.StatusOK, goodContent}}, 2},
		{"ungradeable then success", []reply{{http.StatusOK, `{"questionText": "q", "options": [{"id": "A", "text": "a"}], "correctAnswer": "A"}`}, {http.StatusOK, goodContent}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, 3, tt.replies...)
			if _, err := c.Generate(context.Background(), req); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestGenerateGivesUp(t *testing.T) {
	c, calls := newTestClient(t, 2, reply{http.StatusServiceUnavailable, ""})
	_, err := c.Generate(context.Background(), req)
	if !errors.Is(err, model.ErrGenerationService) {
		t.Fatalf("Generate = %v, want generation service error", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (one try plus two retries)", calls.Load())
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	c, calls := newTestClient(t, 5, reply{http.StatusUnauthorized, ""})
	_, err := c.Generate(context.Background(), req)
	if !errors.Is(err, model.ErrGenerationService) {
		t.Fatalf("Generate = %v, want generation service error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGenerateStopsOnCancel(t *testing.T) {
	c, _ := newTestClient(t, 100, reply{http.StatusInternalServerError, ""})
	c.retryInterval = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.Generate(ctx, req); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Generate kept retrying after the context was done")
	}
}

func TestRetryable(t *testing.T) {
	if retryable(context.Canceled) {
		t.Error("cancellation should not be retried")
	}
	if !retryable(errors.New("connection reset")) {
		t.Error("network errors should be retried")
	}
}
