package executor

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

	"github.com/dusk-indust/papercast/internal/job"
)

func clip(n int, render job.SegmentResult, narration job.SegmentResult) job.Clip {
	render.Segment, narration.Segment = n, n
	return job.Clip{Segment: job.Segment{Number: n}, Render: render, Narration: narration}
}

var (
	rendered = func(src string) job.SegmentResult {
		return job.SegmentResult{Status: job.SegmentSuccess, ArtifactRef: src}
	}
	narrated = func(src string, secs float64) job.SegmentResult {
		return job.SegmentResult{Status: job.SegmentSuccess, ArtifactRef: src, DurationSeconds: secs}
	}
	failed  = job.SegmentResult{Status: job.SegmentFailed, Error: "boom"}
	skipped = job.SegmentResult{Status: job.SegmentSkipped}
)

func TestBuildEdit_LoopsVideoToFillNarration(t *testing.T) {
	clips := []job.Clip{
		clip(1, rendered("v1.mp4"), narrated("a1.mp3", 12)),
		clip(2, failed, narrated("a2.mp3", 3)),
		clip(3, rendered("v3.mp4"), skipped),
	}

	edit, total, err := ComposeConfig{}.BuildEdit(clips)
	require.NoError(t, err)
	assert.Equal(t, 20.0, total)

	require.Len(t, edit.Timeline.Tracks, 2)
	audio, video := edit.Timeline.Tracks[0].Clips, edit.Timeline.Tracks[1].Clips

	require.Len(t, audio, 2)
	assert.Equal(t, TimelineClip{Asset: Asset{Type: "audio", Src: "a1.mp3", Volume: 1}, Start: 0, Length: 12}, audio[0])
	assert.Equal(t, 12.0, audio[1].Start, "failed render keeps its slot")

	// 12s of narration in 5s chunks, then a 5s clip for segment 3 at 15s.
	require.Len(t, video, 4)
	assert.Equal(t, []float64{0, 5, 10, 15}, []float64{video[0].Start, video[1].Start, video[2].Start, video[3].Start})
	assert.Equal(t, []float64{5, 5, 2, 5}, []float64{video[0].Length, video[1].Length, video[2].Length, video[3].Length})
	assert.Equal(t, "v3.mp4", video[3].Asset.Src)
	assert.Zero(t, video[0].Asset.Volume)

	assert.Equal(t, "#000000", edit.Timeline.Background)
	assert.Equal(t, Output{Format: "mp4", Resolution: "hd", FPS: 25}, edit.Output)
}

func TestBuildEdit_NoAudioTrack(t *testing.T) {
	edit, total, err := ComposeConfig{}.BuildEdit([]job.Clip{clip(1, rendered("v.mp4"), skipped)})
	require.NoError(t, err)
	assert.Equal(t, 5.0, total)
	require.Len(t, edit.Timeline.Tracks, 1)
	assert.Equal(t, "video", edit.Timeline.Tracks[0].Clips[0].Asset.Type)
}

func TestBuildEdit_NothingRendered(t *testing.T) {
	_, _, err := ComposeConfig{}.BuildEdit([]job.Clip{
		clip(1, failed, narrated("a.mp3", 4)),
		clip(2, skipped, narrated("b.mp3", 4)),
	})
	require.ErrorIs(t, err, ErrNothingRendered)
}

func shotstackServer(t *testing.T, statuses ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/render":
			var edit Edit
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&edit))
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"success":true,"response":{"id":"r-42"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/render/r-42":
			i := int(polls.Add(1)) - 1
			if i >= len(statuses) {
				i = len(statuses) - 1
			}
			resp := map[string]any{"status": statuses[i]}
			if statuses[i] == "done" {
				resp["url"] = "https://cdn.example/final.mp4"
			}
			if statuses[i] == "failed" {
				resp["error"] = "asset unreachable"
			}
			json.NewEncoder(w).Encode(map[string]any{"success": true, "response": resp})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func testComposer(url string, attempts int) *Composer {
	return NewComposer(ComposeConfig{
		APIKey:       "secret",
		BaseURL:      url,
		PollInterval: time.Millisecond,
		MaxAttempts:  attempts,
	})
}

func TestComposer_Compose(t *testing.T) {
	srv, polls := shotstackServer(t, "queued", "rendering", "done")
	clips := []job.Clip{
		clip(1, rendered("v1.mp4"), narrated("a1.mp3", 6)),
		clip(2, failed, narrated("a2.mp3", 4)),
	}

	video, err := testComposer(srv.URL, 10).Compose(context.Background(), "job-1", nil, clips)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/final.mp4", video.URL)
	assert.Equal(t, "r-42", video.RenderID)
	assert.Equal(t, 10.0, video.DurationSeconds)
	assert.Equal(t, 1, video.Clips)
	assert.Equal(t, int32(3), polls.Load())
}

func TestComposer_RenderFailed(t *testing.T) {
	srv, _ := shotstackServer(t, "fetching", "failed")
	_, err := testComposer(srv.URL, 10).Compose(context.Background(), "j", nil, []job.Clip{clip(1, rendered("v.mp4"), skipped)})
	require.ErrorContains(t, err, "asset unreachable")
}

func TestComposer_GivesUpAfterMaxAttempts(t *testing.T) {
	srv, polls := shotstackServer(t, "rendering")
	_, err := testComposer(srv.URL, 3).Compose(context.Background(), "j", nil, []job.Clip{clip(1, rendered("v.mp4"), skipped)})
	require.ErrorContains(t, err, "after 3 attempts")
	assert.Equal(t, int32(3), polls.Load())
}

func TestComposer_RequiresKey(t *testing.T) {
	_, err := NewComposer(ComposeConfig{}).Compose(context.Background(), "j", nil, nil)
	require.ErrorContains(t, err, "api key")
}

func TestComposeConfig_Environment(t *testing.T) {
	assert.Equal(t, shotstackStageURL, ComposeConfig{}.withDefaults().BaseURL)
	assert.Equal(t, shotstackProdURL, ComposeConfig{Env: "v1"}.withDefaults().BaseURL)
}
