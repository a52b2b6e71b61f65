// Package transcript holds the text side of a recording session: the filter
// that decides whether a recognised utterance is kept, and the helpers that
// build and edit the running transcript.
package transcript

import (
	"fmt"
	"regexp"
	"strings"
)

// maxAnnotationLen is the longest inner text treated as a non-speech
// annotation such as "[music]" or "(coughs)".
const maxAnnotationLen = 18

// annotationPattern also covers engine markers such as "[BLANK_AUDIO]".
var annotationPattern = regexp.MustCompile(fmt.Sprintf(
	`^(?:\[[^\[\]]{1,%d}\]|\([^()]{1,%d}\))$`, maxAnnotationLen, maxAnnotationLen))

// IsAcceptable reports whether recognised text should become part of the
// transcript. Empty text and a lone bracketed annotation of at most 18 inner
// characters are rejected.
func IsAcceptable(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	return !annotationPattern.MatchString(t)
}
