package transcript

import "strings"

// Append adds text to transcript, separated by a single space. Surrounding
// whitespace on text is dropped.
func Append(transcript, text string) string {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return transcript
	case transcript == "":
		return text
	default:
		return transcript + " " + text
	}
}

// Join space-joins texts in order, trimming each one.
func Join(texts []string) string {
	var out string
	for _, t := range texts {
		out = Append(out, t)
	}
	return out
}

// RemoveLastWord drops the final whitespace-separated word and rejoins the
// rest with single spaces.
func RemoveLastWord(transcript string) string {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return ""
	}
	return strings.Join(words[:len(words)-1], " ")
}
