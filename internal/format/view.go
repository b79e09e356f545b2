package format

import (
	"fmt"
	"strings"

	"droidlog/internal/model"
)

// RecordLine renders one record on a single line.
func RecordLine(rec model.Record) string {
	line := rec.Line()
	prefix := fmt.Sprintf("#%05d %s %5s %5s %s", line.Index, formatTime(line.Time), dash(line.PID), dash(line.TID), line.Severity.Letter())
	if ev, ok := rec.(*model.InstrumentationEvent); ok {
		return fmt.Sprintf("%s call %s %s#%s(%s)", prefix, ev.MethodID, ev.FileName, ev.MethodName, strings.Join(ev.Parameters, ", "))
	}
	return prefix + " " + line.Message
}

// FaultLines renders a fault block: a header line followed by the indented
// body, each body message wrapped at wrapWidth when it is positive.
func FaultLines(f model.Fault, wrapWidth int) []string {
	header := f.Header.Line()
	lines := []string{fmt.Sprintf("[%s] %s #%d pid %s: %s", f.Type, formatTime(f.Time), header.Index, dash(header.PID), header.Message)}
	bodyWidth := wrapWidth - 4
	if wrapWidth <= 0 {
		bodyWidth = 0
	}
	for _, rec := range f.Body {
		for _, part := range strings.Split(wrapBody(rec.GetMessage(), bodyWidth), "\n") {
			lines = append(lines, "    "+part)
		}
	}
	return lines
}

func wrapBody(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) > width {
			lines = append(lines, current)
			current = word
		} else {
			current += " " + word
		}
	}
	lines = append(lines, current)

	return strings.Join(lines, "\n")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
