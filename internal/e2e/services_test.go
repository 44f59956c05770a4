//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// plannedPaper is the Anthropic reply: three slides, the second without a
// voiceover script.
const plannedPaper = "```json\n" + `{
  "paper_title": "Attention, Explained",
  "paper_summary": "How transformers decide which words matter.",
  "target_duration_minutes": 5,
  "slides": [
    {"slide_number": 1, "title": "Hook", "visual_type": "text_reveal",
     "key_points": ["Words depend on context"], "voiceover_script": "Ever wondered how a computer reads?",
     "duration_seconds": 20},
    {"slide_number": 2, "title": "The Grid", "visual_type": "icon_grid",
     "visual_description": "A grid of words lighting up", "voiceover_script": "",
     "duration_seconds": 30},
    {"slide_number": 3, "title": "Takeaway", "visual_type": "diagram",
     "voiceover_script": "That is attention in a nutshell.", "duration_seconds": 20}
  ]
}` + "\n```"

// narrationBytes is two seconds of audio at the assumed bitrate.
const narrationBytes = 32000

// fakeServices stands in for Mistral, Anthropic, the render service,
// ElevenLabs and Shotstack on one httptest server. Segment 3 fails to
// render; Shotstack reports queued once before done.
type fakeServices struct {
	*httptest.Server

	mu         sync.Mutex
	calls      map[string]int
	editBody   []byte
	renderPoll int
}

func newFakeServices(t *testing.T) *fakeServices {
	t.Helper()
	f := &fakeServices{calls: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mistral/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.count("ocr")
		writeJSON(w, http.StatusOK, map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "# Attention Is All You Need\n\nTransformers weigh every word against every other word."},
			}},
		})
	})
	mux.HandleFunc("POST /anthropic/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.count("plan")
		writeJSON(w, http.StatusOK, map[string]any{
			"content": []map[string]any{{"type": "text", "text": plannedPaper}},
			"usage":   map[string]any{"input_tokens": 120, "output_tokens": 340},
		})
	})
	mux.HandleFunc("POST /render/v1/video/rendering", func(w http.ResponseWriter, r *http.Request) {
		f.count("render")
		var req struct {
			FileName  string `json:"file_name"`
			FileClass string `json:"file_class"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.FileClass == "Segment003" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "scene failed to compile"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"video_url":   "https://render.test/clips/" + req.FileName + ".mp4",
			"render_time": 1.5,
		})
	})
	mux.HandleFunc("POST /tts/text-to-speech/{voice}", func(w http.ResponseWriter, r *http.Request) {
		f.count("narrate")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(make([]byte, narrationBytes))
	})
	mux.HandleFunc("POST /shotstack/render", func(w http.ResponseWriter, r *http.Request) {
		f.count("compose")
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.editBody = body
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{
			"success":  true,
			"response": map[string]any{"id": "render-1"},
		})
	})
	mux.HandleFunc("GET /shotstack/render/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.renderPoll++
		poll := f.renderPoll
		f.mu.Unlock()

		status := "queued"
		if poll > 1 {
			status = "done"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"response": map[string]any{
				"id":     r.PathValue("id"),
				"status": status,
				"url":    "https://cdn.test/videos/" + r.PathValue("id") + ".mp4",
			},
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServices) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

// Calls returns how many requests the named service received.
func (f *fakeServices) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// Edit returns the last Shotstack edit with jobID replaced by "{job}".
func (f *fakeServices) Edit(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.ReplaceAll(string(f.editBody), jobID, "{job}")
}

func (f *fakeServices) url(service string) string {
	return fmt.Sprintf("%s/%s", f.URL, service)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
