package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nyashahama/kinney-risk-backend/internal/ai"
	"github.com/nyashahama/kinney-risk-backend/internal/scoring"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

type stubAssessor struct {
	result ai.Result
	err    error
	calls  int
}

func (s *stubAssessor) Assess(_ context.Context, _ scoring.RiskInput) (ai.Result, error) {
	s.calls++
	return s.result, s.err
}

// discardLogger returns a *slog.Logger that silently drops all log output.
// Use this instead of nil: fallback.go calls f.logger.Warn() which panics on nil.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testRisk = scoring.RiskInput{
	Description: "Cyberattaque par ransomware sur les serveurs de production",
	Category:    "Industriel",
	Type:        "Cyber & SSI",
	Sector:      "Technologie",
}

// ─── FallbackAssessor ─────────────────────────────────────────────────────────

func TestFallbackAssessor_PrimarySucceeds_SecondaryNotCalled(t *testing.T) {
	primary := &stubAssessor{result: ai.Result{G: 4, F: 3, P: 2, Provider: "primary"}}
	secondary := &stubAssessor{result: ai.Result{Provider: "secondary"}}

	assessor := ai.NewFallbackAssessor(primary, secondary, discardLogger())

	result, err := assessor.Assess(context.Background(), testRisk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "primary" {
		t.Errorf("expected primary result, got: %q", result.Provider)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not be called, got %d calls", secondary.calls)
	}
	if primary.calls != 1 {
		t.Errorf("primary should be called once, got %d calls", primary.calls)
	}
}

func TestFallbackAssessor_PrimaryFails_SecondaryUsed(t *testing.T) {
	primary := &stubAssessor{err: ai.ErrUnavailable}
	secondary := &stubAssessor{result: ai.Result{G: 1, F: 1, P: 1, Provider: "secondary"}}

	assessor := ai.NewFallbackAssessor(primary, secondary, discardLogger())

	result, err := assessor.Assess(context.Background(), testRisk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "secondary" {
		t.Errorf("expected secondary result, got: %q", result.Provider)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("expected one call each, got primary=%d secondary=%d", primary.calls, secondary.calls)
	}
}

func TestFallbackAssessor_BothFail_ReturnsError(t *testing.T) {
	primary := &stubAssessor{err: errors.New("primary error")}
	secondary := &stubAssessor{err: ai.ErrMalformedResponse}

	assessor := ai.NewFallbackAssessor(primary, secondary, discardLogger())

	_, err := assessor.Assess(context.Background(), testRisk)
	if !errors.Is(err, ai.ErrMalformedResponse) {
		t.Fatalf("expected the secondary error, got %v", err)
	}
}

func TestFallbackAssessor_NilPrimary_UsesSecondaryDirectly(t *testing.T) {
	secondary := &stubAssessor{result: ai.Result{Provider: "only"}}

	assessor := ai.NewFallbackAssessor(nil, secondary, discardLogger())

	result, err := assessor.Assess(context.Background(), testRisk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "only" || secondary.calls != 1 {
		t.Errorf("expected one secondary call, got %d (%q)", secondary.calls, result.Provider)
	}
}

func TestFallbackAssessor_NilSecondary_PrimaryErrorBubbles(t *testing.T) {
	primaryErr := errors.New("primary blew up")
	assessor := ai.NewFallbackAssessor(&stubAssessor{err: primaryErr}, nil, discardLogger())

	_, err := assessor.Assess(context.Background(), testRisk)
	if !errors.Is(err, primaryErr) {
		t.Errorf("expected to find primaryErr in chain, got: %v", err)
	}
}

func TestFallbackAssessor_NoneConfigured(t *testing.T) {
	_, err := ai.NewFallbackAssessor(nil, nil, discardLogger()).Assess(context.Background(), testRisk)
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// ─── OpenAI-compatible client ─────────────────────────────────────────────────

// chatServer serves /v1/chat/completions, answering with the contents in
// order (the last one repeats). An empty content answers HTTP 500.
func chatServer(t *testing.T, contents ...string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat.Type != "json_object" {
			t.Errorf("expected json_object response format, got %q", req.ResponseFormat.Type)
		}

		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(contents) {
			n = len(contents) - 1
		}
		if contents[n] == "" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": contents[n]},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newOpenAI(srv *httptest.Server, retries int) ai.Assessor {
	return ai.NewOpenAICompatible(ai.OpenAIConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL + "/v1",
		Model:     "llama-test",
		Retries:   retries,
		RetryWait: time.Millisecond,
		Logger:    discardLogger(),
	})
}

const goodAnswer = `{"G": 4, "F": "3", "P": 2, "llm_classification": "Moyen",
 "causes": ["mots de passe faibles"], "recommendations": ["MFA"], "justification": "exposition forte"}`

func TestOpenAICompatible_Success(t *testing.T) {
	srv, calls := chatServer(t, goodAnswer)

	result, err := newOpenAI(srv, 2).Assess(context.Background(), testRisk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.G != 4 || result.F != 3 || result.P != 2 {
		t.Errorf("got G=%d F=%d P=%d", result.G, result.F, result.P)
	}
	if result.Provider != "llama-test" || result.LLMClassification != "Moyen" {
		t.Errorf("unexpected metadata: %+v", result)
	}
	if *calls != 1 {
		t.Errorf("expected 1 call, got %d", *calls)
	}
	a, err := result.Assessment()
	if err != nil || a.RawScore != 24 || a.Classification != scoring.ClassLow {
		t.Errorf("unexpected assessment %+v (%v)", a, err)
	}
}

func TestOpenAICompatible_RetriesThenSucceeds(t *testing.T) {
	srv, calls := chatServer(t, "", "pas de json", goodAnswer)

	if _, err := newOpenAI(srv, 2).Assess(context.Background(), testRisk); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 3 {
		t.Errorf("expected 3 calls, got %d", *calls)
	}
}

func TestOpenAICompatible_Unavailable(t *testing.T) {
	srv, calls := chatServer(t, "")

	_, err := newOpenAI(srv, 1).Assess(context.Background(), testRisk)
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if *calls != 2 {
		t.Errorf("expected 2 calls, got %d", *calls)
	}
}

func TestOpenAICompatible_Malformed(t *testing.T) {
	srv, _ := chatServer(t, `{"G": 9, "F": 1, "P": 1}`)

	_, err := newOpenAI(srv, 0).Assess(context.Background(), testRisk)
	if !errors.Is(err, ai.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestOpenAICompatible_ContextCancelledBetweenAttempts(t *testing.T) {
	srv, calls := chatServer(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assessor := ai.NewOpenAICompatible(ai.OpenAIConfig{
		BaseURL:   srv.URL + "/v1",
		Retries:   5,
		RetryWait: time.Hour,
		Logger:    discardLogger(),
	})
	_, err := assessor.Assess(ctx, testRisk)
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if *calls > 1 {
		t.Errorf("expected at most 1 call, got %d", *calls)
	}
}
