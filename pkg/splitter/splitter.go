package splitter

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunk is the Telegram-safe message size used by workers.
const DefaultMaxChunk = 4000

// entityScanWindow bounds the lookback for an unterminated HTML entity at a
// hard cut. html.EscapeString emits entities of at most five bytes.
const entityScanWindow = 6

var (
	prePattern         = regexp.MustCompile(`(?is)<pre(?:\s[^>]*)?>(.*?)</pre>`)
	codeWrapperPattern = regexp.MustCompile(`(?is)^\s*<code(?:\s+class="([^"]*)")?\s*>(.*)</code>\s*$`)
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
)

// segment is one independently escaped piece of the reply: either running
// text or a single preformatted code block.
type segment struct {
	code bool
	// text is the rendered markup for non-code segments.
	text string
	// open, body and close make up a code segment; body is already escaped.
	open  string
	body  string
	close string
}

func (s segment) render() string {
	if !s.code {
		return s.text
	}
	return s.open + s.body + s.close
}

// Split turns one reply into ordered chunks that each fit maxLen and each
// carry balanced preformatted-block markup.
//
// Code blocks are escaped independently of the surrounding text so their
// literal angle brackets and ampersands render verbatim. A block sliced at a
// chunk boundary is closed at the slice and reopened, with the same language
// class, at the start of the next chunk.
func Split(raw string, maxLen int) []string {
	if raw == "" {
		return nil
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxChunk
	}

	var chunks []string
	current := ""
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, seg := range partition(raw) {
		text := seg.render()
		if len(text) <= maxLen {
			if len(current)+len(text) <= maxLen {
				current += text
			} else {
				flush()
				current = text
			}
			continue
		}

		flush()
		pieces := sliceSegment(seg, maxLen)
		for i, piece := range pieces {
			if i == len(pieces)-1 {
				// Keep the tail open so trailing small segments can pack in.
				current = piece
			} else {
				chunks = append(chunks, piece)
			}
		}
	}
	flush()

	return chunks
}

// StripTags removes all markup from a chunk and undoes entity escaping,
// producing the plain-text fallback used when the transport rejects HTML.
func StripTags(chunk string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(chunk, ""))
}

// partition splits the input into alternating raw and preformatted segments.
func partition(raw string) []segment {
	var segments []segment
	last := 0

	for _, m := range prePattern.FindAllStringSubmatchIndex(raw, -1) {
		start, end := m[0], m[1]
		if start > last {
			segments = append(segments, segment{text: html.EscapeString(raw[last:start])})
		}
		segments = append(segments, codeSegment(raw[m[2]:m[3]]))
		last = end
	}

	if last < len(raw) {
		segments = append(segments, segment{text: html.EscapeString(raw[last:])})
	}

	return segments
}

// codeSegment builds a code segment from the inner content of a <pre> block,
// unwrapping an inner <code> tag and keeping its language class when present.
func codeSegment(inner string) segment {
	lang := ""
	content := inner
	if m := codeWrapperPattern.FindStringSubmatch(inner); m != nil {
		lang = strings.TrimSpace(m[1])
		content = m[2]
	}

	open := "<pre><code>"
	if lang != "" {
		open = `<pre><code class="` + html.EscapeString(lang) + `">`
	}

	return segment{
		code:  true,
		open:  open,
		body:  html.EscapeString(content),
		close: "</code></pre>",
	}
}

// sliceSegment cuts one oversized segment into pieces that each fit maxLen.
func sliceSegment(seg segment, maxLen int) []string {
	if !seg.code {
		return sliceText(seg.text, maxLen)
	}

	budget := maxLen - len(seg.open) - len(seg.close)
	if budget < 1 {
		budget = 1
	}

	parts := sliceText(seg.body, budget)
	pieces := make([]string, len(parts))
	for i, part := range parts {
		pieces[i] = seg.open + part + seg.close
	}
	return pieces
}

// sliceText cuts escaped text into pieces of at most limit bytes, preferring
// newline boundaries, then spaces, then a hard cut.
func sliceText(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := cutPoint(text, limit)
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// cutPoint picks the slice index for the next piece of text, never splitting
// a UTF-8 rune or an escaped entity at a hard cut.
func cutPoint(text string, limit int) int {
	window := text[:limit]
	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i + 1
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if amp := strings.LastIndexByte(text[:cut], '&'); amp >= 0 && cut-amp <= entityScanWindow {
		if !strings.Contains(text[amp:cut], ";") {
			cut = amp
		}
	}
	if cut == 0 {
		// Pathologically small limit; a raw cut beats an infinite loop.
		cut = limit
	}
	return cut
}
