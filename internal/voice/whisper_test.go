package voice

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/openaicompat"
	"github.com/ent0n29/aspen/internal/stages"
	"github.com/ent0n29/aspen/internal/utterance"
)

func testUtterance() utterance.Utterance {
	return utterance.Utterance{
		Seq:        1,
		Frames:     []audio.Frame{{Samples: make([]int16, 512), SampleRate: 16000}},
		SampleRate: 16000,
	}
}

func TestWhisperTranscriberUploadsWAV(t *testing.T) {
	var gotModel, gotAuth string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		gotModel = r.FormValue("model")
		f, _, err := r.FormFile("file")
		if err == nil {
			gotFile, _ = io.ReadAll(f)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  What's the weather like today? "}`)
	}))
	defer srv.Close()

	client := openaicompat.NewClient(openaicompat.Config{APIKey: "test-key", BaseURL: srv.URL})
	tr := NewWhisperTranscriber(client, WhisperConfig{})

	got, err := tr.Transcribe(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "What's the weather like today?" {
		t.Fatalf("Transcribe() = %q", got)
	}
	if gotModel != "whisper-large-v3-turbo" {
		t.Fatalf("model = %q", gotModel)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	samples, rate, err := audio.DecodeWAV(gotFile)
	if err != nil || rate != 16000 || len(samples) != 512 {
		t.Fatalf("uploaded wav: samples=%d rate=%d err=%v", len(samples), rate, err)
	}
}

func TestWhisperTranscriberClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   stages.Kind
	}{
		{http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error"}}`, stages.KindTransient},
		{http.StatusTooManyRequests, `{"error":{"message":"insufficient_quota","type":"insufficient_quota"}}`, stages.KindQuota},
		{http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, stages.KindFatal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		}))
		client := openaicompat.NewClient(openaicompat.Config{APIKey: "k", BaseURL: srv.URL})
		_, err := NewWhisperTranscriber(client, WhisperConfig{}).Transcribe(context.Background(), testUtterance())
		srv.Close()
		if got := stages.Classify(err); got != tc.want {
			t.Fatalf("status %d: Classify(%v) = %v, want %v", tc.status, err, got, tc.want)
		}
	}
}

func TestWhisperTranscriberRejectsEmptyUtterance(t *testing.T) {
	client := openaicompat.NewClient(openaicompat.Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	_, err := NewWhisperTranscriber(client, WhisperConfig{}).Transcribe(context.Background(), utterance.Utterance{})
	if err == nil || !strings.Contains(err.Error(), "no audio") {
		t.Fatalf("Transcribe() error = %v", err)
	}
}
