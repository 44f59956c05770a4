package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/papercast/internal/job"
)

var sampleSegment = job.Segment{
	Number:            3,
	Title:             "Mechanism",
	VisualType:        job.VisualIconGrid,
	VisualDescription: "Icons for each muscle",
	KeyPoints:         []string{"larynx", "diaphragm"},
	NarrationScript:   "It starts in the throat.",
}

func TestRenderPrompt(t *testing.T) {
	p := RenderPrompt(sampleSegment)
	assert.Contains(t, p, `"Mechanism"`)
	assert.Contains(t, p, "Style: icon grid.")
	assert.Contains(t, p, "Show: Icons for each muscle")
	assert.Contains(t, p, "- diaphragm")
}

func TestRenderer_Success(t *testing.T) {
	var got renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/video/rendering", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"video_url":"https://media.example/seg3.mp4","render_time":12.5}`))
	}))
	defer srv.Close()

	res := NewRenderer(RenderConfig{BaseURL: srv.URL}).Run(context.Background(), "job-1", sampleSegment)
	assert.Equal(t, job.SegmentSuccess, res.Status)
	assert.Equal(t, 3, res.Segment)
	assert.Equal(t, "https://media.example/seg3.mp4", res.ArtifactRef)
	assert.Equal(t, 12.5, res.RenderSeconds)

	assert.Equal(t, "Segment003", got.FileClass)
	assert.Equal(t, "segment_003", got.FileName)
	assert.Equal(t, RenderPrompt(sampleSegment), got.Prompt)
}

func TestRenderer_FailuresAreResults(t *testing.T) {
	t.Run("service error detail", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"detail":"scene has no animations"}`))
		}))
		defer srv.Close()

		res := NewRenderer(RenderConfig{BaseURL: srv.URL}).Run(context.Background(), "j", sampleSegment)
		assert.Equal(t, job.SegmentFailed, res.Status)
		assert.Equal(t, "scene has no animations", res.Error)
	})

	t.Run("no video", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		res := NewRenderer(RenderConfig{BaseURL: srv.URL}).Run(context.Background(), "j", sampleSegment)
		assert.Equal(t, job.SegmentFailed, res.Status)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		res := NewRenderer(RenderConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}).Run(context.Background(), "j", sampleSegment)
		assert.Equal(t, job.SegmentFailed, res.Status)
		assert.Contains(t, res.Error, "timed out")
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		res := NewRenderer(RenderConfig{BaseURL: url}).Run(context.Background(), "j", sampleSegment)
		assert.Equal(t, job.SegmentFailed, res.Status)
		assert.Contains(t, res.Error, "cannot connect")
	})
}

func TestDisabledRenderer(t *testing.T) {
	res := DisabledRenderer{}.Run(context.Background(), "j", sampleSegment)
	assert.Equal(t, job.SegmentSkipped, res.Status)
	assert.Equal(t, 3, res.Segment)
	require.Equal(t, "rendering disabled", res.Error)
}
