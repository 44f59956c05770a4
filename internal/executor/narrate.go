package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/job"
)

// narrationBitrate is the assumed MP3 bitrate used to estimate duration.
const narrationBitrate = 128000

// NarrationConfig configures the ElevenLabs text-to-speech client. Zero
// fields take the defaults: the public API, the "George" voice,
// eleven_turbo_v2_5, stability 0.5, similarity boost 0.75 and a 120s
// timeout. When PublicBaseURL is set the artifact reference is
// PublicBaseURL/<job>/<file> instead of the local path.
type NarrationConfig struct {
	BaseURL         string
	APIKey          string
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
	PublicBaseURL   string
}

func (c NarrationConfig) withDefaults() NarrationConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.elevenlabs.io/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	if c.VoiceID == "" {
		c.VoiceID = "pqHfZKP75CvOlQylNhV4"
	}
	if c.ModelID == "" {
		c.ModelID = "eleven_turbo_v2_5"
	}
	if c.Stability == 0 {
		c.Stability = 0.5
	}
	if c.SimilarityBoost == 0 {
		c.SimilarityBoost = 0.75
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// Narrator synthesizes each segment's narration script to MP3 and stores
// the audio in an ArtifactDir.
type Narrator struct {
	cfg       NarrationConfig
	artifacts *ArtifactDir
	c         httpClient
}

// NewNarrator creates a Narrator writing audio under artifacts.
func NewNarrator(cfg NarrationConfig, artifacts *ArtifactDir, opts ...Option) *Narrator {
	cfg = cfg.withDefaults()
	return &Narrator{cfg: cfg, artifacts: artifacts, c: newHTTPClient(cfg.Timeout, opts)}
}

type ttsRequest struct {
	Text          string           `json:"text"`
	ModelID       string           `json:"model_id"`
	VoiceSettings ttsVoiceSettings `json:"voice_settings"`
}

type ttsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Run narrates seg. Segments flagged SkipNarration or with an empty script
// are skipped.
func (n *Narrator) Run(ctx context.Context, jobID string, seg job.Segment) job.SegmentResult {
	if seg.SkipNarration {
		return job.Skipped(seg.Number, "narration disabled for segment")
	}
	script := strings.TrimSpace(seg.NarrationScript)
	if script == "" {
		return job.Skipped(seg.Number, "empty narration script")
	}
	if n.cfg.APIKey == "" {
		return job.Failed(seg.Number, errors.New("elevenlabs api key not configured"))
	}

	log := n.c.logger.With(zap.String("job_id", jobID), zap.Int("segment", seg.Number))
	header := http.Header{}
	header.Set("xi-api-key", n.cfg.APIKey)
	header.Set("Accept", "audio/mpeg")

	endpoint := n.cfg.BaseURL + "/text-to-speech/" + url.PathEscape(n.cfg.VoiceID)
	audio, err := n.c.do(ctx, "elevenlabs", http.MethodPost, endpoint, header, ttsRequest{
		Text:    script,
		ModelID: n.cfg.ModelID,
		VoiceSettings: ttsVoiceSettings{
			Stability:       n.cfg.Stability,
			SimilarityBoost: n.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		reason := err.Error()
		if isTimeout(err) {
			reason = "elevenlabs: request timed out"
		}
		log.Warn("narration failed", zap.String("reason", reason))
		return job.SegmentResult{Segment: seg.Number, Status: job.SegmentFailed, Error: reason}
	}
	if len(audio) == 0 {
		return job.Failed(seg.Number, errors.New("elevenlabs returned no audio"))
	}

	name := fmt.Sprintf("segment-%03d.mp3", seg.Number)
	path, err := n.artifacts.Write(jobID, name, audio)
	if err != nil {
		return job.Failed(seg.Number, err)
	}
	ref := path
	if n.cfg.PublicBaseURL != "" {
		ref = n.cfg.PublicBaseURL + "/" + jobID + "/" + name
	}

	duration := EstimateDuration(int64(len(audio)))
	log.Info("segment narrated", zap.Int("bytes", len(audio)), zap.Float64("seconds", duration))
	return job.SegmentResult{
		Segment:         seg.Number,
		Status:          job.SegmentSuccess,
		ArtifactRef:     ref,
		DurationSeconds: duration,
		SizeBytes:       int64(len(audio)),
	}
}

// EstimateDuration approximates MP3 playback seconds from its size.
func EstimateDuration(sizeBytes int64) float64 {
	if sizeBytes <= 0 {
		return 0
	}
	return float64(sizeBytes*8) / narrationBitrate
}
