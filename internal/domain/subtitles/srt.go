package subtitles

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/forPelevin/hlfeed/internal/types"
)

var (
	reBlockSep = regexp.MustCompile(`\n\s*\n`)
	reTiming   = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})`)
	reTags     = regexp.MustCompile(`<[^>]+>`)
	reOverride = regexp.MustCompile(`\{\\[^}]*\}`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// ParseSRT turns SubRip text into dialogue spans. Malformed blocks are
// skipped one by one; the rest of the stream is still returned.
func ParseSRT(content string) []types.DialogueSpan {
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var out []types.DialogueSpan
	for _, block := range reBlockSep.Split(content, -1) {
		span, ok := parseBlock(block)
		if !ok {
			continue
		}
		out = append(out, span)
	}
	return out
}

func parseBlock(block string) (types.DialogueSpan, bool) {
	lines := strings.Split(strings.TrimSpace(block), "\n")
	if len(lines) < 3 {
		return types.DialogueSpan{}, false
	}
	if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err != nil {
		return types.DialogueSpan{}, false
	}
	m := reTiming.FindStringSubmatch(strings.TrimSpace(lines[1]))
	if m == nil {
		return types.DialogueSpan{}, false
	}
	start := toMs(m[1], m[2], m[3], m[4])
	end := toMs(m[5], m[6], m[7], m[8])

	parts := make([]string, 0, len(lines)-2)
	for _, l := range lines[2:] {
		if t := strings.TrimSpace(l); t != "" {
			parts = append(parts, t)
		}
	}
	text := StripMarkup(strings.Join(parts, " "))
	if text == "" {
		return types.DialogueSpan{}, false
	}
	return types.DialogueSpan{StartMs: start, EndMs: end, Text: text}, true
}

// StripMarkup removes HTML-style tags and ASS override blocks and collapses
// whitespace.
func StripMarkup(s string) string {
	s = reTags.ReplaceAllString(s, "")
	s = reOverride.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func toMs(h, m, s, ms string) int64 {
	hi, _ := strconv.ParseInt(h, 10, 64)
	mi, _ := strconv.ParseInt(m, 10, 64)
	si, _ := strconv.ParseInt(s, 10, 64)
	msi, _ := strconv.ParseInt(ms, 10, 64)
	return ((hi*60+mi)*60+si)*1000 + msi
}
