// Package text splits input documents into segments that fit the per-call
// text limit of the speech service.
//
// Lengths are measured in Unicode code points. Sentence boundaries cover the
// Latin terminators and the Arabic question mark, so Persian and Arabic text
// is cut in the same places a reader would pause.
package text

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxSegmentSize is the largest segment sent in one synthesis call.
const DefaultMaxSegmentSize = 3800

// A sentence ends at a terminator followed by whitespace. \s alone is ASCII
// only in RE2, so vertical tab and the Unicode separators are added.
const sentenceBoundaryPattern = `([.!?؟])[\s\x0B\p{Z}]+`

const (
	arabicComma  = '،'
	segmentJoint = ' '
)

// ErrNoSegments is returned when the input has nothing left to synthesize.
var ErrNoSegments = errors.New("text cannot be split into segments")

// Segmenter splits text into ordered, trimmed segments of at most maxSize
// code points.
type Segmenter struct {
	sentenceBoundary *regexp.Regexp
	maxSize          int
}

// NewSegmenter returns a Segmenter. A non-positive maxSize selects
// DefaultMaxSegmentSize.
func NewSegmenter(maxSize int) *Segmenter {
	if maxSize <= 0 {
		maxSize = DefaultMaxSegmentSize
	}

	return &Segmenter{
		sentenceBoundary: regexp.MustCompile(sentenceBoundaryPattern),
		maxSize:          maxSize,
	}
}

// MaxSize reports the configured segment limit.
func (s *Segmenter) MaxSize() int {
	return s.maxSize
}

// Segment splits text into segments. Text that already fits is returned
// unchanged as the only segment. Longer text is packed sentence by sentence;
// a sentence that is longer than the limit on its own is cut at the last
// soft break in the trailing half of the window, or hard-cut at the limit.
func (s *Segmenter) Segment(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoSegments
	}

	if utf8.RuneCountInString(text) <= s.maxSize {
		return []string{text}, nil
	}

	var (
		segments []string
		current  []rune
	)

	for _, sentence := range s.splitSentences(text) {
		unit := []rune(sentence)

		if len(current)+len(unit)+1 > s.maxSize {
			segments = appendTrimmed(segments, current)
			current = unit

			for len(current) > s.maxSize {
				cut := s.cutIndex(current)
				segments = appendTrimmed(segments, current[:cut])
				current = current[cut:]
			}

			continue
		}

		if len(current) > 0 {
			current = append(current, segmentJoint)
		}

		current = append(current, unit...)
	}

	segments = appendTrimmed(segments, current)

	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	return segments, nil
}

// splitSentences cuts after every terminator that is followed by whitespace
// and drops that whitespace.
func (s *Segmenter) splitSentences(text string) []string {
	matches := s.sentenceBoundary.FindAllStringSubmatchIndex(text, -1)
	sentences := make([]string, 0, len(matches)+1)
	start := 0

	for _, match := range matches {
		// match[3] is the end of the terminator group.
		sentences = append(sentences, text[start:match[3]])
		start = match[1]
	}

	return append(sentences, text[start:])
}

// cutIndex returns the exclusive end of the next piece of an oversize run.
// The soft break itself stays with the left piece.
func (s *Segmenter) cutIndex(runes []rune) int {
	for i := s.maxSize - 1; i > s.maxSize/2; i-- {
		if isSoftBreak(runes[i]) {
			return i + 1
		}
	}

	return s.maxSize
}

func isSoftBreak(r rune) bool {
	switch r {
	case ',', arabicComma, ';', ':', ' ':
		return true
	default:
		return false
	}
}

func appendTrimmed(segments []string, piece []rune) []string {
	trimmed := strings.TrimSpace(string(piece))
	if trimmed == "" {
		return segments
	}

	return append(segments, trimmed)
}
