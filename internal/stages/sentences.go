package stages

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

var abbreviations = []string{
	"Mr.", "Mrs.", "Dr.", "Prof.", "Inc.", "Ltd.", "Jr.", "Sr.",
	"e.g.", "i.e.", "vs.", "St.", "Rd.",
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	default:
		return false
	}
}

// isWideEnd marks CJK terminators, which are not followed by a space.
func isWideEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」', '』':
		return true
	default:
		return false
	}
}

// SentenceSegmenter cuts streamed reply text into sentences so synthesis can start
// before the full reply exists.
type SentenceSegmenter struct {
	buffer string
}

// Push adds a fragment and returns every sentence it completed.
func (s *SentenceSegmenter) Push(fragment string) []string {
	if fragment == "" {
		return nil
	}
	s.buffer += fragment
	var out []string
	for {
		sentence, rest, ok := nextSentence(s.buffer, false)
		if !ok {
			break
		}
		s.buffer = rest
		if sentence != "" {
			out = append(out, sentence)
		}
	}
	return out
}

// Flush returns whatever text is left once the stream has ended.
func (s *SentenceSegmenter) Flush() []string {
	var out []string
	for {
		sentence, rest, ok := nextSentence(s.buffer, true)
		if !ok {
			break
		}
		s.buffer = rest
		if sentence != "" {
			out = append(out, sentence)
		}
	}
	if tail := strings.TrimSpace(s.buffer); tail != "" {
		out = append(out, tail)
	}
	s.buffer = ""
	return out
}

func nextSentence(buf string, final bool) (sentence, rest string, ok bool) {
	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRuneInString(buf[i:])
		if !isSentenceEnd(r) {
			i += size
			continue
		}
		wide := isWideEnd(r)
		j := i + size
		for j < len(buf) {
			r2, s2 := utf8.DecodeRuneInString(buf[j:])
			if !isSentenceEnd(r2) && !isCloser(r2) {
				break
			}
			wide = wide || isWideEnd(r2)
			j += s2
		}
		if j == len(buf) && !final {
			// More punctuation or a decimal digit may still arrive.
			return "", buf, false
		}
		if j < len(buf) && !wide {
			next, _ := utf8.DecodeRuneInString(buf[j:])
			if !unicode.IsSpace(next) {
				i = j
				continue
			}
		}
		candidate := strings.TrimSpace(buf[:j])
		if endsWithAbbreviation(candidate) {
			i = j
			continue
		}
		return candidate, strings.TrimLeftFunc(buf[j:], unicode.IsSpace), true
	}
	return "", buf, false
}

func endsWithAbbreviation(s string) bool {
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(s, abbr) {
			continue
		}
		head := s[:len(s)-len(abbr)]
		if head == "" {
			return true
		}
		r, _ := utf8.DecodeLastRuneInString(head)
		if unicode.IsSpace(r) || r == '(' || r == '"' {
			return true
		}
	}
	return false
}

// SplitSentences re-chunks a fragment stream into a sentence stream.
func SplitSentences(in TextStream) TextStream {
	return &sentenceStream{in: in}
}

type sentenceStream struct {
	in      TextStream
	seg     SentenceSegmenter
	pending []string
	done    bool
}

func (s *sentenceStream) Next(ctx context.Context) (string, error) {
	for {
		if len(s.pending) > 0 {
			v := s.pending[0]
			s.pending = s.pending[1:]
			return v, nil
		}
		if s.done {
			return "", io.EOF
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fragment, err := s.in.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.done = true
			s.pending = append(s.pending, s.seg.Flush()...)
			continue
		}
		if err != nil {
			return "", err
		}
		s.pending = append(s.pending, s.seg.Push(fragment)...)
	}
}

func (s *sentenceStream) Close() error {
	return s.in.Close()
}
