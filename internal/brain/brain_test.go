package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/openaicompat"
	"github.com/ent0n29/aspen/internal/stages"
)

func history() conversation.Snapshot {
	return conversation.Snapshot{Turns: []conversation.Turn{
		{ID: 1, Kind: conversation.KindGreeting, ReplyText: "Hi, how can I help?", Status: conversation.StatusCompleted},
		{ID: 2, Kind: conversation.KindUser, UserText: "Tell me a story", ReplyText: "Once upon a", Status: conversation.StatusInterrupted},
	}}
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("be brief", history(), "Actually, what's the weather?")
	require.Len(t, msgs, 5)
	assert.Equal(t, conversation.RoleSystem, msgs[0].Role)
	assert.Equal(t, conversation.Message{Role: conversation.RoleAssistant, Content: "Once upon a"}, msgs[3])
	assert.Equal(t, conversation.Message{Role: conversation.RoleUser, Content: "Actually, what's the weather?"}, msgs[4])
}

func TestBuildMessagesMergesTrailingUserText(t *testing.T) {
	snap := conversation.Snapshot{Turns: []conversation.Turn{
		{ID: 1, UserText: "Hello", Status: conversation.StatusFailed},
	}}
	msgs := BuildMessages("", snap, "are you there?")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello are you there?", msgs[0].Content)
}

func sseChunk(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "c1",
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": content}}},
	})
	return "data: " + string(b) + "\n\n"
}

func TestChatGeneratorStreamsDeltas(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"I don't have", "", " live weather", " data."} {
			_, _ = io.WriteString(w, sseChunk(c))
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := openaicompat.NewClient(openaicompat.Config{APIKey: "k", BaseURL: srv.URL})
	gen := NewChatGenerator(client, ChatConfig{Model: "llama-3.1-8b-instant", SystemPrompt: "be brief"})

	stream, err := gen.Generate(context.Background(), history(), "What's the weather?")
	require.NoError(t, err)
	parts, err := stages.Collect(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"I don't have", " live weather", " data."}, parts)

	assert.Equal(t, "llama-3.1-8b-instant", gotBody["model"])
	assert.Equal(t, true, gotBody["stream"])
	msgs, _ := gotBody["messages"].([]any)
	assert.Len(t, msgs, 5)
}

func TestChatGeneratorClassifiesOpenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream","type":"server_error"}}`)
	}))
	defer srv.Close()

	client := openaicompat.NewClient(openaicompat.Config{APIKey: "k", BaseURL: srv.URL})
	_, err := NewChatGenerator(client, ChatConfig{}).Generate(context.Background(), conversation.Snapshot{}, "hi")
	assert.Equal(t, stages.KindTransient, stages.Classify(err))
}

func TestHTTPGeneratorStreamingFormats(t *testing.T) {
	cases := []struct {
		name string
		ct   string
		body string
		want []string
	}{
		{
			name: "sse",
			ct:   "text/event-stream",
			body: "event: delta\ndata: {\"delta\":\"Hello\"}\n\n: keepalive\ndata: {\"delta\":\" there.\"}\n\ndata: [DONE]\n\n",
			want: []string{"Hello", " there."},
		},
		{
			name: "ndjson",
			ct:   "application/x-ndjson",
			body: "{\"text\":\"One.\"}\n{\"text\":\" Two.\"}\n",
			want: []string{"One.", " Two."},
		},
		{
			name: "json",
			ct:   "application/json",
			body: `{"output":"Whole reply."}`,
			want: []string{"Whole reply."},
		},
		{
			name: "plain",
			ct:   "text/plain",
			body: "  Plain reply.  ",
			want: []string{"Plain reply."},
		},
		{
			name: "empty",
			ct:   "application/json",
			body: `{}`,
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got httpRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.Header().Set("Content-Type", tc.ct)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			stream, err := NewHTTPGenerator(srv.URL, "sys").Generate(context.Background(), history(), "hello")
			require.NoError(t, err)
			parts, err := stages.Collect(context.Background(), stream)
			require.NoError(t, err)
			assert.Equal(t, tc.want, parts)
			assert.Equal(t, "hello", got.UserText)
			assert.Equal(t, "sys", got.SystemPrompt)
		})
	}
}

func TestHTTPGeneratorStatusErrors(t *testing.T) {
	for code, want := range map[int]stages.Kind{
		http.StatusServiceUnavailable: stages.KindTransient,
		http.StatusPaymentRequired:    stages.KindQuota,
		http.StatusForbidden:          stages.KindFatal,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", code)
		}))
		_, err := NewHTTPGenerator(srv.URL, "").Generate(context.Background(), conversation.Snapshot{}, "hi")
		srv.Close()
		assert.Equal(t, want, stages.Classify(err), fmt.Sprintf("status %d", code))
	}
}

func TestMockGenerator(t *testing.T) {
	stream, err := NewMockGenerator().Generate(context.Background(), conversation.Snapshot{}, " the weather ")
	require.NoError(t, err)
	parts, err := stages.Collect(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, "I heard you say: the weather.", strings.Join(parts, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMockGenerator().Generate(ctx, conversation.Snapshot{}, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
