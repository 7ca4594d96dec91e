// Package openaicompat builds clients for OpenAI-compatible HTTP APIs (OpenAI, Groq)
// and maps their failures onto the stage error taxonomy.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/aspen/internal/stages"
)

const (
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OpenAIBaseURL = "https://api.openai.com/v1"
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func NewClient(cfg Config) *openai.Client {
	c := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		c.BaseURL = strings.TrimRight(u, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(c)
}

// ClassifyError wraps err as a transient, quota or malformed stage error where the
// upstream response allows it.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body := fmt.Sprintf("%s %s %v", apiErr.Type, apiErr.Message, apiErr.Code)
		return stages.FromHTTPStatus(provider, apiErr.HTTPStatusCode, body, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return stages.FromHTTPStatus(provider, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return stages.Transient(provider, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}
