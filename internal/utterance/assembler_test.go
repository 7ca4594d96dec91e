package utterance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/aspen/internal/audio"
	"github.com/ent0n29/aspen/internal/lull"
)

const frameDur = 32 * time.Millisecond

func frame(i int) audio.Frame {
	return audio.Frame{
		Samples:    make([]int16, 512),
		SampleRate: 16000,
		Timestamp:  time.Duration(i) * frameDur,
	}
}

func start(i int, preRoll ...int) lull.Result {
	pre := make([]audio.Frame, 0, len(preRoll))
	for _, p := range preRoll {
		pre = append(pre, frame(p))
	}
	return lull.Result{Frame: frame(i), Event: &lull.Event{Type: lull.SpeechStart, At: frame(i).Timestamp, PreRoll: pre}}
}

func mid(i int) lull.Result { return lull.Result{Frame: frame(i)} }

func end(i int) lull.Result {
	return lull.Result{Frame: frame(i), Event: &lull.Event{Type: lull.SpeechEnd, At: frame(i).Timestamp}}
}

func TestAssemblerEmitsOnSpeechEnd(t *testing.T) {
	a, err := NewAssembler(Config{MinDuration: 100 * time.Millisecond})
	require.NoError(t, err)

	_, ok := a.Feed(mid(0))
	assert.False(t, ok, "frames before SpeechStart are not buffered")

	_, ok = a.Feed(start(3, 1, 2, 3))
	assert.False(t, ok)
	for i := 4; i < 10; i++ {
		_, ok = a.Feed(mid(i))
		assert.False(t, ok)
	}
	u, ok := a.Feed(end(10))
	require.True(t, ok)

	assert.Equal(t, uint64(1), u.Seq)
	assert.Len(t, u.Frames, 10)
	assert.Equal(t, frame(1).Timestamp, u.Start)
	assert.Equal(t, frame(10).End(), u.End)
	assert.Equal(t, 10*frameDur, u.Duration())
	assert.Len(t, u.Samples(), 10*512)
	assert.False(t, a.Open())
}

func TestAssemblerIgnoresDuplicateStart(t *testing.T) {
	a, err := NewAssembler(Config{})
	require.NoError(t, err)

	a.Feed(start(0, 0))
	a.Feed(mid(1))
	a.Feed(start(2, 0, 1, 2))
	u, ok := a.Feed(end(3))
	require.True(t, ok)
	assert.Len(t, u.Frames, 4, "duplicate start keeps the existing buffer and appends its frame")
	assert.Equal(t, time.Duration(0), u.Start)
}

func TestAssemblerDiscardsShortUtterances(t *testing.T) {
	a, err := NewAssembler(Config{MinDuration: 500 * time.Millisecond})
	require.NoError(t, err)

	a.Feed(start(0, 0))
	_, ok := a.Feed(end(1))
	assert.False(t, ok)
	assert.Equal(t, 1, a.Discarded())
	assert.False(t, a.Open())
}

func TestAssemblerEndWithoutStartIsIgnored(t *testing.T) {
	a, err := NewAssembler(Config{})
	require.NoError(t, err)
	_, ok := a.Feed(end(0))
	assert.False(t, ok)
	assert.Zero(t, a.Discarded())
}

func TestAssemblerCutsAtMaxDuration(t *testing.T) {
	a, err := NewAssembler(Config{MaxDuration: 10 * frameDur})
	require.NoError(t, err)

	a.Feed(start(0, 0))
	var cut []Utterance
	for i := 1; i < 25; i++ {
		if u, ok := a.Feed(mid(i)); ok {
			cut = append(cut, u)
		}
	}
	require.Len(t, cut, 2)
	assert.True(t, cut[0].Truncated)
	assert.Len(t, cut[0].Frames, 10)
	assert.Equal(t, frame(10).Timestamp, cut[1].Start)
	assert.True(t, a.Open())

	u, ok := a.Feed(end(25))
	require.True(t, ok)
	assert.False(t, u.Truncated)
	assert.Len(t, u.Frames, 6)
	assert.Equal(t, uint64(3), u.Seq)
}

func TestAssemblerAcceptsFlushEventWithoutFrame(t *testing.T) {
	a, err := NewAssembler(Config{})
	require.NoError(t, err)
	a.Feed(start(0, 0))
	a.Feed(mid(1))
	u, ok := a.Feed(lull.Result{Event: &lull.Event{Type: lull.SpeechEnd}})
	require.True(t, ok)
	assert.Len(t, u.Frames, 2)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{MinDuration: -1}.Validate())
	assert.Error(t, Config{MinDuration: time.Second, MaxDuration: time.Second}.Validate())
	assert.NoError(t, Config{MinDuration: time.Second, MaxDuration: 0}.Validate())
}
