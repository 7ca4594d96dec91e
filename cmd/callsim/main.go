// Command callsim places a synthetic phone call against a running aspen server.
// It speaks prepared utterances over the Media Streams websocket the way Twilio
// would and reports how long each reply took to start playing.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/telephony"
)

const frameSamples = 160 // 20ms at 8kHz, Twilio's media cadence

type options struct {
	baseURL     string
	turns       int
	realtime    float64
	trailing    time.Duration
	quiet       time.Duration
	turnTimeout time.Duration
	texts       []string
	verbose     bool
}

var defaultUtterances = []string{
	"What time do you open tomorrow?",
	"Can I book a table for two?",
	"Is there parking nearby?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "aspen base URL")
	flag.IntVar(&cfg.turns, "turns", 6, "number of caller turns")
	flag.Float64Var(&cfg.realtime, "realtime", 1.0, "media pacing multiplier (1.0=realtime)")
	flag.DurationVar(&cfg.trailing, "trailing-silence", 1200*time.Millisecond, "silence sent after each utterance")
	flag.DurationVar(&cfg.quiet, "reply-quiet", 800*time.Millisecond, "outbound silence that ends a reply")
	flag.DurationVar(&cfg.turnTimeout, "turn-timeout", 20*time.Second, "max wait for a reply per turn")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultUtterances...)
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	clips := make([][][]byte, 0, len(cfg.texts))
	for _, text := range cfg.texts {
		frames, err := synthFrames(ctx, httpClient, cfg.baseURL, text)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", text, err)
		}
		clips = append(clips, frames)
	}

	wsURL, err := mediaStreamURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	streamSID := "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")
	callSID := "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := conn.WriteJSON(telephony.Connected{Event: telephony.EventConnected, Protocol: "Call", Version: "1.0.0"}); err != nil {
		return err
	}
	if err := conn.WriteJSON(telephony.Start{
		Event:     telephony.EventStart,
		StreamSID: streamSID,
		Start: telephony.StartInfo{
			CallSID:     callSID,
			StreamSID:   streamSID,
			Tracks:      []string{"inbound"},
			MediaFormat: telephony.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: telephony.SampleRate, Channels: 1},
		},
	}); err != nil {
		return err
	}
	if cfg.verbose {
		fmt.Printf("callsim: stream=%s turns=%d realtime=%.2f\n", streamSID, cfg.turns, cfg.realtime)
	}

	inbound := make(chan time.Time, 256)
	readErr := make(chan error, 1)
	go readLoop(conn, inbound, readErr)

	// Let the greeting play out before the caller speaks.
	if _, err := awaitReply(inbound, readErr, cfg.turnTimeout, cfg.quiet); err != nil && cfg.verbose {
		fmt.Printf("callsim: no greeting: %v\n", err)
	}

	silence := silenceFrames(cfg.trailing)
	var latencies []time.Duration
	for i := 0; i < cfg.turns; i++ {
		frames := clips[i%len(clips)]
		if err := sendFrames(conn, streamSID, frames, cfg.realtime); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		spokeAt := time.Now()
		if err := sendFrames(conn, streamSID, silence, cfg.realtime); err != nil {
			return fmt.Errorf("turn %d send silence: %w", i+1, err)
		}
		first, err := awaitReply(inbound, readErr, cfg.turnTimeout, cfg.quiet)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		latency := first.Sub(spokeAt)
		latencies = append(latencies, latency)
		if cfg.verbose {
			fmt.Printf("callsim: turn %d/%d first_audio=%s\n", i+1, cfg.turns, latency.Round(time.Millisecond))
		}
	}

	stop := telephony.Stop{Event: telephony.EventStop, StreamSID: streamSID}
	stop.Stop.CallSID = callSID
	_ = conn.WriteJSON(stop)

	fmt.Printf("callsim: turns=%d p50=%s p95=%s max=%s\n",
		len(latencies),
		percentile(latencies, 0.50).Round(time.Millisecond),
		percentile(latencies, 0.95).Round(time.Millisecond),
		percentile(latencies, 1.0).Round(time.Millisecond))
	return nil
}

func synthFrames(ctx context.Context, client *http.Client, baseURL, text string) ([][]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/tts/preview", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	samples, rate, err := audio.DecodeWAV(body)
	if err != nil {
		return nil, fmt.Errorf("decode preview wav: %w", err)
	}
	if len(samples) == 0 {
		return nil, errors.New("preview produced no audio")
	}
	return mediaFrames(samples, rate), nil
}

// mediaFrames converts PCM at any rate into 20ms mu-law payloads. The last
// frame is padded with silence.
func mediaFrames(samples []int16, sampleRate int) [][]byte {
	pcm := audio.Resample(samples, sampleRate, telephony.SampleRate)
	out := make([][]byte, 0, len(pcm)/frameSamples+1)
	for off := 0; off < len(pcm); off += frameSamples {
		frame := make([]int16, frameSamples)
		copy(frame, pcm[off:])
		out = append(out, audio.EncodeMulaw(frame))
	}
	return out
}

func silenceFrames(d time.Duration) [][]byte {
	n := int(d / (20 * time.Millisecond))
	if n < 1 {
		n = 1
	}
	frame := audio.EncodeMulaw(make([]int16, frameSamples))
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

func sendFrames(conn *websocket.Conn, streamSID string, frames [][]byte, realtime float64) error {
	pace := time.Duration(float64(20*time.Millisecond) / realtime)
	for _, f := range frames {
		msg := telephony.NewMedia(streamSID, base64.StdEncoding.EncodeToString(f))
		msg.Media.Track = "inbound"
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		time.Sleep(pace)
	}
	return nil
}

// readLoop reports the arrival time of every outbound media message.
func readLoop(conn *websocket.Conn, inbound chan<- time.Time, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env telephony.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Event != telephony.EventMedia {
			continue
		}
		select {
		case inbound <- time.Now():
		default:
		}
	}
}

// awaitReply returns when the first reply media arrived, once the server has
// been quiet for the given duration.
func awaitReply(inbound <-chan time.Time, readErr <-chan error, timeout, quiet time.Duration) (time.Time, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var first time.Time
	select {
	case first = <-inbound:
	case err := <-readErr:
		return time.Time{}, err
	case <-deadline.C:
		return time.Time{}, fmt.Errorf("timeout after %s", timeout)
	}

	idle := time.NewTimer(quiet)
	defer idle.Stop()
	for {
		select {
		case <-inbound:
			idle.Reset(quiet)
		case <-idle.C:
			return first, nil
		case err := <-readErr:
			return first, err
		case <-deadline.C:
			return first, nil
		}
	}
}

func mediaStreamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/media-stream"
	return u.String(), nil
}

func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
