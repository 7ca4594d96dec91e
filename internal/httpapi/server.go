package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ent0n29/aspen/internal/calllog"
	"github.com/ent0n29/aspen/internal/config"
	"github.com/ent0n29/aspen/internal/observability"
	"github.com/ent0n29/aspen/internal/session"
	"github.com/ent0n29/aspen/internal/source"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/telephony"
)

// CallRunner runs the conversation for one connected media stream. It returns
// once in is closed and the conversation has wound down, or ctx ends.
type CallRunner interface {
	RunCall(ctx context.Context, call *session.Call, in *source.Stream, out *telephony.Output) error
}

// Providers names the resolved stage backends for the status endpoint.
type Providers struct {
	Transcriber string `json:"transcriber"`
	Brain       string `json:"brain"`
	Synthesizer string `json:"synthesizer"`
	Fallback    string `json:"fallback_synthesizer,omitempty"`
	CallLog     string `json:"call_log"`
}

type Deps struct {
	Sessions    *session.Manager
	Runner      CallRunner
	CallLog     calllog.Store
	Metrics     *observability.Metrics
	Synthesizer stages.Synthesizer
	Providers   Providers
	Log         zerolog.Logger
}

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	runner      CallRunner
	calls       calllog.Store
	metrics     *observability.Metrics
	synthesizer stages.Synthesizer
	providers   Providers
	limiter     *rate.Limiter
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	limit, burst := cfg.CallRateLimit, cfg.CallRateBurst
	if limit <= 0 {
		limit = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &Server{
		cfg:         cfg,
		sessions:    deps.Sessions,
		runner:      deps.Runner,
		calls:       deps.CallLog,
		metrics:     deps.Metrics,
		synthesizer: deps.Synthesizer,
		providers:   deps.Providers,
		limiter:     rate.NewLimiter(rate.Limit(limit), burst),
		log:         deps.Log.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Twilio and other non-browser clients omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/incoming-call", s.handleIncomingCall)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Get("/media-stream", s.handleMediaStream)

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Get("/v1/calls/{id}/turns", s.handleCallTurns)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/tts/preview", s.handlePreviewTTS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": "call runner not configured",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"providers": s.providers,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

func (s *Server) callEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CallEvents.WithLabelValues(event).Inc()
	s.metrics.ActiveCalls.Set(float64(s.sessions.ActiveCount()))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
