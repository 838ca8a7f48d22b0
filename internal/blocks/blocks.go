// Package blocks splits model responses into prose and fenced code
// segments and joins them back together.
package blocks

import (
	"regexp"
	"strings"
)

const fenceMarker = "```"

// fencePattern matches an opening fence at the start of a line with an
// optional language tag, the body, and the first closing fence that sits
// alone on its own line. The body keeps its trailing newline; the newline
// after the closing fence is left to the following prose.
var fencePattern = regexp.MustCompile("(?ms)^```([A-Za-z0-9+#]*)\n(.*?)^```[ \t]*$")

// Segment is one contiguous span of a response.
type Segment struct {
	Language string `json:"language"`
	Text     string `json:"text"`
	IsCode   bool   `json:"is_code"`
}

// Split returns the segments of text in document order. Text without a
// complete fenced region yields a single prose segment equal to text,
// including the empty string. Unterminated fences stay prose.
func Split(text string) []Segment {
	matches := fencePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []Segment{{Text: text}}
	}

	segments := make([]Segment, 0, 2*len(matches)+1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			segments = append(segments, Segment{Text: text[last:m[0]]})
		}
		segments = append(segments, Segment{
			Language: text[m[2]:m[3]],
			Text:     text[m[4]:m[5]],
			IsCode:   true,
		})
		last = m[1]
	}
	if last < len(text) {
		segments = append(segments, Segment{Text: text[last:]})
	}
	return segments
}

// Join re-inserts fence delimiters around code segments and concatenates
// everything. Join(Split(s)) == s unless a closing fence carried trailing
// blanks.
func Join(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if !seg.IsCode {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(fenceMarker)
		b.WriteString(seg.Language)
		b.WriteByte('\n')
		b.WriteString(seg.Text)
		b.WriteString(fenceMarker)
	}
	return b.String()
}

// HasCode reports whether any segment is a fenced code block.
func HasCode(segments []Segment) bool {
	for _, seg := range segments {
		if seg.IsCode {
			return true
		}
	}
	return false
}

// Code returns only the code segments, in order.
func Code(segments []Segment) []Segment {
	var out []Segment
	for _, seg := range segments {
		if seg.IsCode {
			out = append(out, seg)
		}
	}
	return out
}
