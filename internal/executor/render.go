package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/job"
)

// RenderConfig configures the animation render service client. Zero fields
// take the defaults: a local service on port 8080 and a 300s timeout.
type RenderConfig struct {
	BaseURL string
	Timeout time.Duration
}

func (c RenderConfig) withDefaults() RenderConfig {
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:8080"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	return c
}

// Renderer turns one segment into a short animation clip. Every failure is
// reported in the returned result.
type Renderer struct {
	cfg RenderConfig
	c   httpClient
}

// NewRenderer creates a Renderer.
func NewRenderer(cfg RenderConfig, opts ...Option) *Renderer {
	cfg = cfg.withDefaults()
	return &Renderer{cfg: cfg, c: newHTTPClient(cfg.Timeout, opts)}
}

type renderRequest struct {
	Prompt    string `json:"prompt"`
	FileName  string `json:"file_name"`
	FileClass string `json:"file_class"`
	Stream    bool   `json:"stream"`
}

type renderResponse struct {
	VideoURL   string  `json:"video_url"`
	VideoPath  string  `json:"video_path"`
	RenderTime float64 `json:"render_time"`
}

// Run renders seg and returns its clip reference.
func (r *Renderer) Run(ctx context.Context, jobID string, seg job.Segment) job.SegmentResult {
	log := r.c.logger.With(zap.String("job_id", jobID), zap.Int("segment", seg.Number))
	class := fmt.Sprintf("Segment%03d", seg.Number)
	req := renderRequest{
		Prompt:    RenderPrompt(seg),
		FileName:  fmt.Sprintf("segment_%03d", seg.Number),
		FileClass: class,
	}

	start := time.Now()
	var resp renderResponse
	err := r.c.doJSON(ctx, "render", http.MethodPost, r.cfg.BaseURL+"/v1/video/rendering", nil, req, &resp)
	if err != nil {
		reason := r.describe(err)
		log.Warn("render failed", zap.String("reason", reason))
		return job.SegmentResult{Segment: seg.Number, Status: job.SegmentFailed, Error: reason}
	}

	ref := resp.VideoURL
	if ref == "" {
		ref = resp.VideoPath
	}
	if ref == "" {
		return job.SegmentResult{Segment: seg.Number, Status: job.SegmentFailed, Error: "render service returned no video"}
	}

	renderSeconds := resp.RenderTime
	if renderSeconds == 0 {
		renderSeconds = time.Since(start).Seconds()
	}
	log.Info("segment rendered", zap.String("video", ref), zap.Float64("render_seconds", renderSeconds))
	return job.SegmentResult{
		Segment:       seg.Number,
		Status:        job.SegmentSuccess,
		ArtifactRef:   ref,
		RenderSeconds: renderSeconds,
	}
}

func (r *Renderer) describe(err error) string {
	var he *HTTPError
	switch {
	case errors.As(err, &he):
		return he.Detail()
	case isTimeout(err):
		return fmt.Sprintf("render timed out after %.0f seconds", r.cfg.Timeout.Seconds())
	case isConnect(err):
		return fmt.Sprintf("cannot connect to render service at %s", r.cfg.BaseURL)
	default:
		return err.Error()
	}
}

// RenderPrompt describes the animation wanted for a segment.
func RenderPrompt(seg job.Segment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a short educational animation titled %q.\n", seg.Title)
	if seg.VisualType != "" {
		fmt.Fprintf(&b, "Style: %s.\n", strings.ReplaceAll(string(seg.VisualType), "_", " "))
	}
	if seg.VisualDescription != "" {
		fmt.Fprintf(&b, "Show: %s\n", seg.VisualDescription)
	}
	if len(seg.KeyPoints) > 0 {
		b.WriteString("Key points:\n")
		for _, p := range seg.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return strings.TrimSpace(b.String())
}

// DisabledRenderer is used when rendering is turned off. Every segment is
// reported as skipped so narration and composition can still run.
type DisabledRenderer struct{}

// Run returns a skipped result.
func (DisabledRenderer) Run(_ context.Context, _ string, seg job.Segment) job.SegmentResult {
	return job.Skipped(seg.Number, "rendering disabled")
}
