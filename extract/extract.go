// Package extract pulls a JSON document out of free-form model output.
package extract

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:[jJ][sS][oO][nN])?[ \\t]*\\r?\\n?(.*?)```")

// JSON returns the first JSON-looking payload in text, trimmed of surrounding
// whitespace. It prefers a fenced code block (optionally labeled json) and falls
// back to the first {...} or [...] span. ok is false when neither is found.
func JSON(text string) (payload string, ok bool) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return body, true
		}
	}
	if span, found := bracketSpan(text); found {
		return strings.TrimSpace(span), true
	}
	return "", false
}

// bracketSpan finds the earliest opener and extends it to the last closer of
// the same kind, mirroring a greedy {...} / [...] match.
func bracketSpan(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		// The opener kind never closes; try the other kind from the next opener on.
		rest, found := bracketSpan(text[start+1:])
		return rest, found
	}
	return text[start : end+1], true
}

// Fence wraps payload in a fenced code block labeled lang.
func Fence(lang, payload string) string {
	return "```" + lang + "\n" + payload + "\n```"
}
