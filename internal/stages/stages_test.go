package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/aspen/internal/conversation"
	"github.com/ent0n29/aspen/internal/utterance"
)

func TestSentenceSegmenterStreaming(t *testing.T) {
	var seg SentenceSegmenter
	var got []string
	for _, frag := range []string{"I don't have", " access to live", " weather data. Try", " a forecast site", "!"} {
		got = append(got, seg.Push(frag)...)
	}
	got = append(got, seg.Flush()...)
	assert.Equal(t, []string{"I don't have access to live weather data.", "Try a forecast site!"}, got)
}

func TestSentenceSegmenterAbbreviationsAndDecimals(t *testing.T) {
	var seg SentenceSegmenter
	got := seg.Push("Ask Dr. Smith about pi, e.g. 3.14 and more. Then rest. ")
	assert.Equal(t, []string{"Ask Dr. Smith about pi, e.g. 3.14 and more.", "Then rest."}, got)
	assert.Empty(t, seg.Flush())
}

func TestSentenceSegmenterEllipsisAndQuotes(t *testing.T) {
	var seg SentenceSegmenter
	got := seg.Push(`Well... maybe. He said "stop!" and left. `)
	assert.Equal(t, []string{"Well...", "maybe.", `He said "stop!"`, "and left."}, got)
}

func TestSentenceSegmenterWaitsForTrailingPunctuation(t *testing.T) {
	var seg SentenceSegmenter
	assert.Empty(t, seg.Push("The value is 3."))
	assert.Empty(t, seg.Push("5 today"))
	assert.Equal(t, []string{"The value is 3.5 today"}, seg.Flush())
}

func TestSentenceSegmenterWideTerminators(t *testing.T) {
	var seg SentenceSegmenter
	got := seg.Push("你好。今天怎么样？好")
	assert.Equal(t, []string{"你好。", "今天怎么样？"}, got)
	assert.Equal(t, []string{"好"}, seg.Flush())
}

func TestSplitSentencesStream(t *testing.T) {
	src := FromSlice("Hello there. How", " are you? I am", " fine")
	out, err := Collect(context.Background(), SplitSentences(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello there.", "How are you?", "I am fine"}, out)
}

func TestSanitizeSpeech(t *testing.T) {
	cases := map[string]string{
		"**Bold** and _it_":                   "Bold and it",
		"See [the docs](https://example.com)": "See the docs",
		"Visit https://example.com now":       "Visit now",
		"Use `go test` please":                "Use please",
		"Great job 🎉!":                        "Great job !",
		"  \n ":                               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeSpeech(in), in)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindCancelled, Classify(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.Equal(t, KindTransient, Classify(Transient("groq", errors.New("503"))))
	assert.Equal(t, KindQuota, Classify(Quota("openai", errors.New("insufficient_quota"))))
	assert.Equal(t, KindMalformed, Classify(Malformed("empty transcript")))
	assert.Equal(t, KindTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindFatal, Classify(errors.New("boom")))
}

func TestFromHTTPStatus(t *testing.T) {
	assert.Equal(t, KindTransient, Classify(FromHTTPStatus("p", 503, "", nil)))
	assert.Equal(t, KindQuota, Classify(FromHTTPStatus("p", 429, "insufficient_quota", nil)))
	assert.Equal(t, KindTransient, Classify(FromHTTPStatus("p", 429, "slow down", nil)))
	assert.Equal(t, KindMalformed, Classify(FromHTTPStatus("p", 422, "", nil)))
	assert.Equal(t, KindFatal, Classify(FromHTTPStatus("p", 401, "", nil)))
}

type flakyTranscriber struct {
	failures int
	err      error
	calls    int
}

func (f *flakyTranscriber) Transcribe(context.Context, utterance.Utterance) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "hello", nil
}

func fastPolicy(attempts int, retries *int) RetryPolicy {
	return RetryPolicy{
		Attempts: attempts,
		Base:     time.Millisecond,
		Cap:      2 * time.Millisecond,
		OnRetry:  func(string, int, error) { *retries++ },
	}
}

func TestRetryTranscriberRecoversFromTransient(t *testing.T) {
	var retries int
	f := &flakyTranscriber{failures: 2, err: Transient("groq", errors.New("503"))}
	text, err := RetryTranscriber(f, fastPolicy(3, &retries)).Transcribe(context.Background(), utterance.Utterance{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, 2, retries)
}

func TestRetryTranscriberGivesUpAfterAttempts(t *testing.T) {
	var retries int
	f := &flakyTranscriber{failures: 10, err: Transient("groq", errors.New("503"))}
	_, err := RetryTranscriber(f, fastPolicy(3, &retries)).Transcribe(context.Background(), utterance.Utterance{})
	require.Error(t, err)
	assert.Equal(t, KindTransient, Classify(err))
	assert.Equal(t, 3, f.calls)
}

func TestRetryTranscriberDoesNotRetryQuota(t *testing.T) {
	var retries int
	f := &flakyTranscriber{failures: 10, err: Quota("groq", errors.New("402"))}
	_, err := RetryTranscriber(f, fastPolicy(3, &retries)).Transcribe(context.Background(), utterance.Utterance{})
	assert.Equal(t, KindQuota, Classify(err))
	assert.Equal(t, 1, f.calls)
	assert.Zero(t, retries)
}

type failingStream struct {
	items []string
	err   error
}

func (s *failingStream) Next(context.Context) (string, error) {
	if len(s.items) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	v := s.items[0]
	s.items = s.items[1:]
	return v, nil
}

func (s *failingStream) Close() error { return nil }

type scriptedGenerator struct {
	streams []*failingStream
	calls   int
}

func (g *scriptedGenerator) Generate(context.Context, conversation.Snapshot, string) (TextStream, error) {
	s := g.streams[g.calls]
	g.calls++
	return s, nil
}

func TestRetryGeneratorRetriesBeforeFirstFragment(t *testing.T) {
	var retries int
	g := &scriptedGenerator{streams: []*failingStream{
		{err: Transient("llm", errors.New("reset"))},
		{items: []string{"Hi", " there"}},
	}}
	stream, err := RetryGenerator(g, fastPolicy(5, &retries)).Generate(context.Background(), conversation.Snapshot{}, "hello")
	require.NoError(t, err)
	out, err := Collect(context.Background(), stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", strings.Join(out, ""))
	assert.Equal(t, 2, g.calls)
	assert.Equal(t, 1, retries)
}

func TestRetryGeneratorFailsAfterPartialOutput(t *testing.T) {
	var retries int
	g := &scriptedGenerator{streams: []*failingStream{
		{items: []string{"Hi"}, err: Transient("llm", errors.New("reset"))},
		{items: []string{"never"}},
	}}
	stream, err := RetryGenerator(g, fastPolicy(5, &retries)).Generate(context.Background(), conversation.Snapshot{}, "hello")
	require.NoError(t, err)
	out, err := Collect(context.Background(), stream)
	require.Error(t, err)
	assert.Equal(t, []string{"Hi"}, out)
	assert.Equal(t, 1, g.calls)
}

func TestAudioChunkEstimates(t *testing.T) {
	c := AudioChunk{Samples: make([]int16, 8000), SampleRate: 8000, Text: "one two three"}
	assert.Equal(t, time.Second, c.Duration())
	assert.Equal(t, 3, c.WordCount())
}
