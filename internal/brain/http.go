package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/stages"
)

// HTTPGenerator forwards the conversation to a custom HTTP endpoint. The endpoint
// may answer with a single JSON object, plain text, SSE or NDJSON.
type HTTPGenerator struct {
	url          string
	systemPrompt string
	client       *http.Client
}

type httpRequest struct {
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	Messages     []conversation.Message `json:"messages"`
	UserText     string                 `json:"user_text"`
}

func NewHTTPGenerator(url, systemPrompt string) *HTTPGenerator {
	return &HTTPGenerator{
		url:          strings.TrimSpace(url),
		systemPrompt: systemPrompt,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, history conversation.Snapshot, userText string) (stages.TextStream, error) {
	payload, err := json.Marshal(httpRequest{
		SystemPrompt: g.systemPrompt,
		Messages:     BuildMessages("", history, userText),
		UserText:     userText,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, stages.Transient("http-brain", fmt.Errorf("send request: %w", err))
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, stages.FromHTTPStatus("http-brain", res.StatusCode, string(body),
			fmt.Errorf("brain http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		return &lineStream{body: res.Body, scanner: scanner}, nil
	}

	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, stages.Transient("http-brain", fmt.Errorf("read response: %w", err))
	}
	text := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		text = extractText(obj)
	}
	if text == "" {
		return stages.FromSlice[string](), nil
	}
	return stages.FromSlice(text), nil
}

// lineStream yields one fragment per SSE "data:" line or NDJSON record.
type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *lineStream) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", stages.Transient("http-brain", fmt.Errorf("stream read: %w", err))
			}
			return "", io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			return "", io.EOF
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		if delta == "" {
			continue
		}
		return delta, nil
	}
}

func (s *lineStream) Close() error {
	return s.body.Close()
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
