package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/stages"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	Providers Providers     `json:"providers"`
	Checks    []statusCheck `json:"checks"`
}

// handleStatus reports which backends were resolved and what is running on a
// local fallback.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	p := s.providers
	checks := []statusCheck{
		providerCheck("transcriber", "Speech to text", p.Transcriber, "Set GROQ_API_KEY or OPENAI_API_KEY."),
		providerCheck("brain", "Reply generation", p.Brain, "Set OPENAI_API_KEY or BRAIN_HTTP_URL."),
		providerCheck("synthesizer", "Text to speech", p.Synthesizer, "Set GOOGLE_APPLICATION_CREDENTIALS or ELEVENLABS_API_KEY."),
	}
	if p.Fallback != "" {
		checks = append(checks, statusCheck{ID: "fallback_synthesizer", Status: "ok", Label: "Fallback text to speech", Detail: p.Fallback})
	}
	switch p.CallLog {
	case "postgres":
		checks = append(checks, statusCheck{ID: "call_log", Status: "ok", Label: "Call log", Detail: "postgres"})
	default:
		checks = append(checks, statusCheck{
			ID:     "call_log",
			Status: "warn",
			Label:  "Call log",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist turn outcomes across restarts.",
		})
	}
	if strings.TrimSpace(s.cfg.PublicHost) == "" {
		checks = append(checks, statusCheck{
			ID:     "public_host",
			Status: "warn",
			Label:  "Public host",
			Detail: "stream URL derived from the request Host header",
			Fix:    "Set APP_PUBLIC_HOST when running behind a proxy.",
		})
	}
	respondJSON(w, http.StatusOK, statusResponse{Providers: p, Checks: checks})
}

func providerCheck(id, label, provider, fix string) statusCheck {
	c := statusCheck{ID: id, Status: "ok", Label: label, Detail: provider}
	switch provider {
	case "":
		c.Status = "error"
		c.Detail = "not configured"
		c.Fix = fix
	case "mock":
		c.Status = "warn"
		c.Fix = fix
	}
	return c
}

type previewTTSRequest struct {
	Text string `json:"text"`
}

const previewTimeout = 20 * time.Second

// handlePreviewTTS renders text with the configured synthesizer and returns WAV.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "synthesizer not configured")
		return
	}
	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := stages.SanitizeSpeech(req.Text)
	if text == "" {
		text = "Hello, this is how I sound."
	}

	ctx, cancel := context.WithTimeout(r.Context(), previewTimeout)
	defer cancel()
	stream, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}
	chunks, err := stages.Collect(ctx, stream)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}
	rate := 0
	var samples []int16
	for _, c := range chunks {
		if rate == 0 {
			rate = c.SampleRate
		}
		samples = append(samples, audio.Resample(c.Samples, c.SampleRate, rate)...)
	}
	wav, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
