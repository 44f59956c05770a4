package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/job"
)

// truncationMarker is appended when the document is cut to fit the model.
const truncationMarker = "\n\n[Content truncated for processing...]"

// PlannerConfig configures the Anthropic-backed content planner. Zero
// fields take the defaults: the public API, claude-sonnet-4-20250514, 4000
// max tokens, 15000 input characters and a 120s timeout.
type PlannerConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxTokens     int
	TruncateChars int
	Timeout       time.Duration
}

func (c PlannerConfig) withDefaults() PlannerConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.anthropic.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = "claude-sonnet-4-20250514"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	if c.TruncateChars <= 0 {
		c.TruncateChars = 15000
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

const plannerSystemPrompt = `You plan explainer videos that teach the ideas of an academic research paper to 13-14 year olds.

Build a presentation plan that:
1. Explains complex concepts in plain words
2. Leans on analogies and everyday examples
3. Is structured for animated visuals, one idea per slide
4. Follows a clear narrative from hook to takeaway

Reply with one JSON object of this shape:
{
  "paper_title": "Short, engaging title",
  "paper_summary": "Two or three plain sentences on what the paper is about",
  "target_duration_minutes": 5,
  "slides": [
    {
      "slide_number": 1,
      "title": "Hook",
      "visual_type": "text_reveal|diagram|equation|graph|comparison|timeline|icon_grid|code_walkthrough",
      "visual_description": "What the animation shows, specific enough for an animator",
      "key_points": ["point 1", "point 2"],
      "voiceover_script": "What the narrator says, conversational",
      "duration_seconds": 30,
      "transition_note": "How this leads into the next slide"
    }
  ]
}

Use 5-8 slides for a five minute video. Open with a relatable hook and close with a summary of why the work matters.

Reply with JSON only, without markdown fences or commentary.`

// Planner asks a language model to turn extracted text into a content plan.
type Planner struct {
	cfg PlannerConfig
	c   httpClient
}

// NewPlanner creates a Planner.
func NewPlanner(cfg PlannerConfig, opts ...Option) *Planner {
	cfg = cfg.withDefaults()
	return &Planner{cfg: cfg, c: newHTTPClient(cfg.Timeout, opts)}
}

type messagesRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    string            `json:"system"`
	Messages  []messagesMessage `json:"messages"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Plan sends the (possibly truncated) document to the model and parses its
// reply into a validated plan.
func (p *Planner) Plan(ctx context.Context, jobID string, doc *job.Document) (*job.ContentPlan, error) {
	if p.cfg.APIKey == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	if doc == nil || strings.TrimSpace(doc.Text) == "" {
		return nil, errors.New("document has no text to plan from")
	}

	text, truncated := truncate(doc.Text, p.cfg.TruncateChars)
	req := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		System:    plannerSystemPrompt,
		Messages: []messagesMessage{{
			Role:    "user",
			Content: plannerUserPrompt(text),
		}},
	}
	header := http.Header{}
	header.Set("x-api-key", p.cfg.APIKey)
	header.Set("anthropic-version", "2023-06-01")

	log := p.c.logger.With(zap.String("job_id", jobID))
	log.Info("planning started", zap.Int("chars", utf8.RuneCountInString(text)), zap.Bool("truncated", truncated))

	var resp messagesResponse
	if err := p.c.doJSON(ctx, "anthropic", http.MethodPost, p.cfg.BaseURL+"/v1/messages", header, req, &resp); err != nil {
		return nil, err
	}

	var reply strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	log.Info("planning reply received",
		zap.Int("reply_chars", reply.Len()),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
	)

	plan, err := ParsePlan(reply.String())
	if err != nil {
		log.Warn("unparseable plan reply", zap.String("reply_head", head(reply.String(), 500)))
		return nil, err
	}
	return plan, nil
}

func plannerUserPrompt(text string) string {
	return "Here is the extracted content of a research paper:\n\n---\n" + text + "\n---\n\n" +
		"Plan an engaging five minute video that explains the paper's key ideas to 8th graders."
}

// truncate cuts s to limit runes and appends the truncation marker.
func truncate(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationMarker, true
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// wirePlan is the JSON shape the model is asked to produce.
type wirePlan struct {
	Title                 string      `json:"paper_title"`
	Summary               string      `json:"paper_summary"`
	TargetDurationMinutes int         `json:"target_duration_minutes"`
	Slides                []wireSlide `json:"slides"`
}

type wireSlide struct {
	Number            int      `json:"slide_number"`
	Title             string   `json:"title"`
	VisualType        string   `json:"visual_type"`
	VisualDescription string   `json:"visual_description"`
	KeyPoints         []string `json:"key_points"`
	VoiceoverScript   string   `json:"voiceover_script"`
	DurationSeconds   int      `json:"duration_seconds"`
	TransitionNote    string   `json:"transition_note"`
}

// ParsePlan decodes a model reply into a content plan. Markdown code fences
// around the JSON are stripped. Slides without a number are numbered by
// position.
func ParsePlan(reply string) (*job.ContentPlan, error) {
	var w wirePlan
	if err := json.Unmarshal([]byte(StripFences(reply)), &w); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	plan := &job.ContentPlan{
		Title:                 w.Title,
		Summary:               w.Summary,
		TargetDurationMinutes: w.TargetDurationMinutes,
		Segments:              make([]job.Segment, 0, len(w.Slides)),
	}
	for i, s := range w.Slides {
		n := s.Number
		if n == 0 {
			n = i + 1
		}
		plan.Segments = append(plan.Segments, job.Segment{
			Number:            n,
			Title:             s.Title,
			VisualType:        job.VisualType(s.VisualType),
			VisualDescription: s.VisualDescription,
			KeyPoints:         s.KeyPoints,
			NarrationScript:   s.VoiceoverScript,
			DurationSeconds:   s.DurationSeconds,
			TransitionNote:    s.TransitionNote,
		})
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return plan, nil
}

// StripFences returns the body of the first ```json (or bare ```) fenced
// block, or s trimmed when there is no fence.
func StripFences(s string) string {
	for _, fence := range []string{"```json", "```"} {
		if _, after, ok := strings.Cut(s, fence); ok {
			body, _, _ := strings.Cut(after, "```")
			return strings.TrimSpace(body)
		}
	}
	return strings.TrimSpace(s)
}
