package sandbox

import "strings"

// Output framing between the in-sandbox entry process and the adapter:
// a line whose first non-blank character is '{' is a structured frame
// (tool traces, panel actions, provider logs) and is never shown to the
// user. Every other line is human-readable output.

// IsFrame reports whether line is a structured frame.
func IsFrame(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "{")
}

// SplitFrames separates human lines from frames, preserving order within
// each, and joins the human lines.
func SplitFrames(lines []string) (human string, frames []string) {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimRight(l, "\r")
		if IsFrame(l) {
			frames = append(frames, strings.TrimSpace(l))
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), frames
}

// HumanOrPlaceholder returns s, or Placeholder when s is empty.
func HumanOrPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}
