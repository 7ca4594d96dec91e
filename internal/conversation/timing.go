package conversation

import (
	"strings"
	"time"
)

// WordTiming is the estimated playback window of one reply word, relative to the
// moment the reply started speaking.
type WordTiming struct {
	Word     string
	Start    time.Duration
	Duration time.Duration
}

// Timeline accumulates WordTimings chunk by chunk as audio is handed to egress.
type Timeline struct {
	words []WordTiming
	end   time.Duration
}

// PerWord converts a speaking rate into a per-word duration.
func PerWord(wordsPerMinute float64) time.Duration {
	if wordsPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / wordsPerMinute)
}

// AddChunk spreads the chunk's words evenly over its audio duration. offset is when
// the chunk started playing; a chunk cannot start before the previous one ended.
// When the chunk carries no duration, fallbackPerWord is used for each word.
func (tl *Timeline) AddChunk(text string, offset, duration, fallbackPerWord time.Duration) {
	start := offset
	if start < tl.end {
		start = tl.end
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		if duration > 0 {
			tl.end = start + duration
		}
		return
	}

	per := fallbackPerWord
	if duration > 0 {
		per = duration / time.Duration(len(words))
	}
	for i, w := range words {
		tl.words = append(tl.words, WordTiming{
			Word:     w,
			Start:    start + time.Duration(i)*per,
			Duration: per,
		})
	}
	if duration > 0 {
		tl.end = start + duration
	} else {
		tl.end = start + time.Duration(len(words))*per
	}
}

func (tl *Timeline) Len() int { return len(tl.words) }

// Total is the estimated playback length of everything added so far.
func (tl *Timeline) Total() time.Duration { return tl.end }

func (tl *Timeline) Words() []WordTiming {
	out := make([]WordTiming, len(tl.words))
	copy(out, tl.words)
	return out
}

// SpokenCount returns how many words had finished playing by elapsed. A word cut
// off mid-way was not heard.
func (tl *Timeline) SpokenCount(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	n := 0
	for _, w := range tl.words {
		if w.Start+w.Duration > elapsed {
			break
		}
		n++
	}
	return n
}

// SpokenText joins the first SpokenCount(elapsed) words.
func (tl *Timeline) SpokenText(elapsed time.Duration) string {
	n := tl.SpokenCount(elapsed)
	if n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = tl.words[i].Word
	}
	return strings.Join(parts, " ")
}
