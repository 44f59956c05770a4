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

const (
	shotstackStageURL = "https://api.shotstack.io/stage"
	shotstackProdURL  = "https://api.shotstack.io/v1"
)

// ComposeConfig configures the Shotstack composer. Zero fields take the
// defaults: the stage environment, polling every 5s for up to 120
// attempts, 5s clips for segments without narration, 7s source clips
// trimmed by 2s, and hd mp4 output at 25 fps.
type ComposeConfig struct {
	APIKey string

	// Env is "stage" (sandbox) or "v1" (production).
	Env string

	// BaseURL overrides the URL derived from Env.
	BaseURL string

	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration

	MinClipSeconds    float64
	SourceClipSeconds float64
	TrimSeconds       float64

	Resolution string
	FPS        int
	Format     string
	Background string
}

func (c ComposeConfig) withDefaults() ComposeConfig {
	if c.Env == "" {
		c.Env = "stage"
	}
	if c.BaseURL == "" {
		c.BaseURL = shotstackStageURL
		if c.Env != "stage" {
			c.BaseURL = shotstackProdURL
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 120
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MinClipSeconds <= 0 {
		c.MinClipSeconds = 5
	}
	if c.SourceClipSeconds <= 0 {
		c.SourceClipSeconds = 7
	}
	if c.TrimSeconds <= 0 || c.TrimSeconds >= c.SourceClipSeconds {
		c.TrimSeconds = 2
	}
	if c.Resolution == "" {
		c.Resolution = "hd"
	}
	if c.FPS <= 0 {
		c.FPS = 25
	}
	if c.Format == "" {
		c.Format = "mp4"
	}
	if c.Background == "" {
		c.Background = "#000000"
	}
	return c
}

// Edit is the render request body.
type Edit struct {
	Timeline Timeline `json:"timeline"`
	Output   Output   `json:"output"`
}

// Timeline lists tracks top to bottom.
type Timeline struct {
	Background string  `json:"background"`
	Tracks     []Track `json:"tracks"`
}

// Track is one layer of clips.
type Track struct {
	Clips []TimelineClip `json:"clips"`
}

// TimelineClip places an asset on a track.
type TimelineClip struct {
	Asset  Asset   `json:"asset"`
	Start  float64 `json:"start"`
	Length float64 `json:"length"`
}

// Asset is a video or audio source.
type Asset struct {
	Type   string  `json:"type"`
	Src    string  `json:"src"`
	Volume float64 `json:"volume"`
}

// Output describes the rendered file.
type Output struct {
	Format     string `json:"format"`
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`
}

// ErrNothingRendered is returned when no clip has a successful render.
var ErrNothingRendered = errors.New("no segment rendered successfully")

// BuildEdit lays the clips out on a timeline. Each clip lasts as long as
// its narration, or MinClipSeconds without narration. The rendered video
// is muted and looped in (SourceClipSeconds - TrimSeconds) chunks to fill
// that span; clips without a successful render keep their slot but
// contribute no video. Narration sits on its own track above the video.
// It returns the edit and the total duration in seconds.
func (c ComposeConfig) BuildEdit(clips []job.Clip) (*Edit, float64, error) {
	c = c.withDefaults()
	chunk := c.SourceClipSeconds - c.TrimSeconds

	var (
		videoClips []TimelineClip
		audioClips []TimelineClip
		current    float64
	)
	for _, clip := range clips {
		hasAudio := clip.Narration.Status == job.SegmentSuccess &&
			clip.Narration.ArtifactRef != "" && clip.Narration.DurationSeconds > 0

		total := c.MinClipSeconds
		if hasAudio {
			total = clip.Narration.DurationSeconds
		}

		if clip.Render.Status == job.SegmentSuccess && clip.Render.ArtifactRef != "" {
			for filled := 0.0; filled < total; {
				length := min(total-filled, chunk)
				videoClips = append(videoClips, TimelineClip{
					Asset:  Asset{Type: "video", Src: clip.Render.ArtifactRef, Volume: 0},
					Start:  current + filled,
					Length: length,
				})
				filled += length
			}
		}
		if hasAudio {
			audioClips = append(audioClips, TimelineClip{
				Asset:  Asset{Type: "audio", Src: clip.Narration.ArtifactRef, Volume: 1},
				Start:  current,
				Length: clip.Narration.DurationSeconds,
			})
		}
		current += total
	}

	if len(videoClips) == 0 {
		return nil, 0, ErrNothingRendered
	}

	var tracks []Track
	if len(audioClips) > 0 {
		tracks = append(tracks, Track{Clips: audioClips})
	}
	tracks = append(tracks, Track{Clips: videoClips})

	return &Edit{
		Timeline: Timeline{Background: c.Background, Tracks: tracks},
		Output:   Output{Format: c.Format, Resolution: c.Resolution, FPS: c.FPS},
	}, current, nil
}

// Composer submits the edit to Shotstack and waits for the final video.
type Composer struct {
	cfg ComposeConfig
	c   httpClient
}

// NewComposer creates a Composer.
func NewComposer(cfg ComposeConfig, opts ...Option) *Composer {
	cfg = cfg.withDefaults()
	return &Composer{cfg: cfg, c: newHTTPClient(cfg.Timeout, opts)}
}

type shotstackEnvelope struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		URL    string `json:"url"`
		Error  string `json:"error"`
	} `json:"response"`
}

// Compose builds the timeline, submits it, and polls until the render is
// done, failed, or out of attempts.
func (c *Composer) Compose(ctx context.Context, jobID string, _ *job.ContentPlan, clips []job.Clip) (*job.Video, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("shotstack api key not configured")
	}
	edit, total, err := c.cfg.BuildEdit(clips)
	if err != nil {
		return nil, err
	}

	log := c.c.logger.With(zap.String("job_id", jobID))
	header := http.Header{}
	header.Set("x-api-key", c.cfg.APIKey)

	var submitted shotstackEnvelope
	err = c.c.doJSON(ctx, "shotstack", http.MethodPost, c.cfg.BaseURL+"/render", header, edit, &submitted, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	renderID := submitted.Response.ID
	if renderID == "" {
		return nil, errors.New("shotstack: no render id in response")
	}
	log.Info("composition submitted", zap.String("render_id", renderID), zap.Int("clips", len(clips)))

	url, err := c.wait(ctx, renderID, header)
	if err != nil {
		return nil, err
	}
	log.Info("composition done", zap.String("render_id", renderID), zap.String("url", url))

	rendered := 0
	for _, clip := range clips {
		if clip.Render.Status == job.SegmentSuccess {
			rendered++
		}
	}
	return &job.Video{URL: url, RenderID: renderID, DurationSeconds: total, Clips: rendered}, nil
}

func (c *Composer) wait(ctx context.Context, renderID string, header http.Header) (string, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		var st shotstackEnvelope
		err := c.c.doJSON(ctx, "shotstack", http.MethodGet, c.cfg.BaseURL+"/render/"+renderID, header, nil, &st)
		if err != nil {
			return "", err
		}

		switch st.Response.Status {
		case "done":
			if st.Response.URL == "" {
				return "", fmt.Errorf("shotstack: render %s done without a url", renderID)
			}
			return st.Response.URL, nil
		case "failed":
			reason := st.Response.Error
			if reason == "" {
				reason = "unknown error"
			}
			return "", fmt.Errorf("shotstack: render %s failed: %s", renderID, reason)
		}
		c.c.logger.Debug("composition pending",
			zap.String("render_id", renderID),
			zap.String("status", st.Response.Status),
			zap.Int("attempt", attempt),
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
	return "", fmt.Errorf("shotstack: render %s not done after %d attempts", renderID, c.cfg.MaxAttempts)
}
