package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/reliability"
	"github.com/ent0n29/aspen/internal/stages"
)

type ElevenLabsConfig struct {
	APIKey     string
	WSBaseURL  string
	VoiceID    string
	ModelID    string
	SampleRate int

	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// ElevenLabsSynthesizer streams one sentence per websocket session using the
// stream-input API and attaches the aligned characters to every audio chunk.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_flash_v2_5"
	}
	switch cfg.SampleRate {
	case 8000, 16000, 22050, 24000, 44100:
	default:
		cfg.SampleRate = 16000
	}
	cfg.Stability = clampSetting(cfg.Stability, 0.42, 0, 1)
	cfg.SimilarityBoost = clampSetting(cfg.SimilarityBoost, 0.85, 0, 1)
	cfg.Speed = clampSetting(cfg.Speed, 1.0, 0.7, 1.2)
	return &ElevenLabsSynthesizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

func clampSetting(v, def, lo, hi float64) float64 {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (stages.AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, stages.Malformed("empty synthesis text")
	}
	if strings.TrimSpace(e.cfg.VoiceID) == "" {
		return nil, fmt.Errorf("elevenlabs: voice_id is required")
	}

	u, err := url.Parse(strings.TrimRight(e.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(e.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", e.cfg.ModelID)
	q.Set("output_format", "pcm_"+strconv.Itoa(e.cfg.SampleRate))
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", e.cfg.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, stages.FromHTTPStatus("elevenlabs", resp.StatusCode, "", fmt.Errorf("dial tts websocket: %w", err))
		}
		return nil, stages.Transient("elevenlabs", fmt.Errorf("dial tts websocket: %w", err))
	}

	s := &elevenStream{
		conn:       conn,
		sampleRate: e.cfg.SampleRate,
		events:     make(chan elevenEvent, 64),
		done:       make(chan struct{}),
	}
	go s.readLoop()

	// Prime, send the whole sentence, then close input so the server flushes.
	for _, payload := range []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        e.cfg.Stability,
				"similarity_boost": e.cfg.SimilarityBoost,
				"speed":            e.cfg.Speed,
			},
		},
		{"text": strings.TrimSpace(text) + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := s.writeJSON(payload); err != nil {
			_ = s.Close()
			return nil, stages.Transient("elevenlabs", fmt.Errorf("send tts text: %w", err))
		}
	}
	return s, nil
}

type elevenEvent struct {
	samples []int16
	chars   string
	final   bool
	err     error
}

type elevenStream struct {
	conn       *websocket.Conn
	sampleRate int
	writeMu    sync.Mutex
	closeOnce  sync.Once
	events     chan elevenEvent
	done       chan struct{}

	// One chunk is held back so that a word split across two audio messages is
	// attributed to a single chunk.
	held    *stages.AudioChunk
	pending string
	ended   bool
}

func (s *elevenStream) Next(ctx context.Context) (stages.AudioChunk, error) {
	for {
		if s.ended {
			if s.held != nil {
				c := *s.held
				s.held = nil
				c.Text = strings.TrimSpace(c.Text + s.pending)
				s.pending = ""
				return c, nil
			}
			return stages.AudioChunk{}, io.EOF
		}

		var ev elevenEvent
		var ok bool
		select {
		case <-ctx.Done():
			return stages.AudioChunk{}, ctx.Err()
		case ev, ok = <-s.events:
		}
		if !ok || ev.final {
			s.ended = true
			continue
		}
		if ev.err != nil {
			return stages.AudioChunk{}, ev.err
		}

		s.pending += ev.chars
		if len(ev.samples) == 0 {
			continue
		}
		next := &stages.AudioChunk{Samples: ev.samples, SampleRate: s.sampleRate}
		prev := s.held
		s.held = next
		if prev == nil {
			continue
		}
		words, rest := splitCompleteWords(s.pending)
		s.pending = rest
		prev.Text = strings.TrimSpace(prev.Text + words)
		return *prev, nil
	}
}

// splitCompleteWords cuts text after its last whitespace.
func splitCompleteWords(text string) (string, string) {
	idx := strings.LastIndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return "", text
	}
	return text[:idx+1], text[idx+1:]
}

func (s *elevenStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *elevenStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

type elevenMessage struct {
	Audio     string           `json:"audio"`
	IsFinal   *bool            `json:"isFinal"`
	Error     string           `json:"error"`
	Message   string           `json:"message"`
	Type      string           `json:"message_type"`
	Alignment *elevenAlignment `json:"alignment"`
}

type elevenAlignment struct {
	Chars []string `json:"chars"`
}

func (s *elevenStream) emit(ev elevenEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *elevenStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			select {
			case <-s.done:
			default:
				s.emit(elevenEvent{err: stages.Transient("elevenlabs", fmt.Errorf("read tts websocket: %w", err))})
			}
			return
		}
		var msg elevenMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Error != "" {
			err := fmt.Errorf("elevenlabs %s: %s", msg.Type, msg.Error)
			if reliability.IsRetryableRealtimeMessageType(msg.Type) {
				err = stages.Transient("elevenlabs", err)
			}
			s.emit(elevenEvent{err: err})
			return
		}

		var ev elevenEvent
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.emit(elevenEvent{err: errors.Join(stages.ErrMalformedInput, err)})
				return
			}
			ev.samples = audio.PCM16FromBytes(raw)
		}
		if msg.Alignment != nil {
			ev.chars = strings.Join(msg.Alignment.Chars, "")
		}
		if len(ev.samples) > 0 || ev.chars != "" {
			if !s.emit(ev) {
				return
			}
		}
		if msg.IsFinal != nil && *msg.IsFinal {
			s.emit(elevenEvent{final: true})
			return
		}
	}
}
