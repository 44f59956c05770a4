package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dusk-indust/papercast/internal/job"
)

const samplePlanReply = `{
  "paper_title": "Why Cats Purr",
  "paper_summary": "A study of purring.",
  "target_duration_minutes": 5,
  "slides": [
    {"slide_number": 1, "title": "Hook", "visual_type": "text_reveal", "visual_description": "A cat",
     "key_points": ["cats purr"], "voiceover_script": "Ever wondered why cats purr?", "duration_seconds": 20},
    {"slide_number": 2, "title": "Mechanism", "visual_type": "diagram", "visual_description": "Larynx",
     "key_points": ["muscles"], "voiceover_script": "It starts in the throat.", "duration_seconds": 40,
     "transition_note": "Now the why"}
  ]
}`

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `  {"a":1} `, `{"a":1}`},
		{"json fence", "Here you go:\n```json\n{\"a\":1}\n```\nEnjoy", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"unterminated", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	s, cut := truncate("héllo", 10)
	assert.False(t, cut)
	assert.Equal(t, "héllo", s)

	s, cut = truncate("héllo wörld", 5)
	assert.True(t, cut)
	assert.Equal(t, "héllo"+truncationMarker, s)
}

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("```json\n" + samplePlanReply + "\n```")
	require.NoError(t, err)

	assert.Equal(t, "Why Cats Purr", plan.Title)
	assert.Equal(t, 5, plan.TargetDurationMinutes)
	require.Len(t, plan.Segments, 2)
	assert.Equal(t, job.VisualDiagram, plan.Segments[1].VisualType)
	assert.Equal(t, "It starts in the throat.", plan.Segments[1].NarrationScript)
	assert.Equal(t, "Now the why", plan.Segments[1].TransitionNote)
}

func TestParsePlan_NumbersMissingSlides(t *testing.T) {
	plan, err := ParsePlan(`{"paper_title":"T","slides":[{"title":"a"},{"title":"b"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Segments[0].Number)
	assert.Equal(t, 2, plan.Segments[1].Number)
}

func TestParsePlan_Rejects(t *testing.T) {
	_, err := ParsePlan("I cannot help with that.")
	require.Error(t, err)

	_, err = ParsePlan(`{"paper_title":"T","slides":[]}`)
	require.Error(t, err)

	_, err = ParsePlan(`{"slides":[{"slide_number":1},{"slide_number":1}]}`)
	require.Error(t, err)
}

func TestPlanner_Plan(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "```json\n" + samplePlanReply + "\n```"}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	p := NewPlanner(PlannerConfig{BaseURL: srv.URL, APIKey: "test-key", TruncateChars: 100}, WithLogger(zaptest.NewLogger(t)))
	long := strings.Repeat("x", 250)

	plan, err := p.Plan(context.Background(), "job-1", &job.Document{Text: long})
	require.NoError(t, err)
	assert.Len(t, plan.Segments, 2)

	assert.Equal(t, "claude-sonnet-4-20250514", got.Model)
	assert.Equal(t, 4000, got.MaxTokens)
	assert.Equal(t, plannerSystemPrompt, got.System)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, strings.Repeat("x", 100)+truncationMarker)
	assert.NotContains(t, got.Messages[0].Content, strings.Repeat("x", 101))
}

func TestPlanner_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPlanner(PlannerConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := p.Plan(context.Background(), "j", &job.Document{Text: "text"})
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusServiceUnavailable, he.StatusCode)
	assert.Equal(t, "overloaded", he.Detail())

	_, err = NewPlanner(PlannerConfig{}).Plan(context.Background(), "j", &job.Document{Text: "text"})
	require.ErrorContains(t, err, "api key")

	_, err = p.Plan(context.Background(), "j", &job.Document{Text: "   "})
	require.Error(t, err)
}
