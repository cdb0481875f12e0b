// Package preprocessor implements the Response Preprocessor (C5): tool-
// call detection, termination-signal normalization, text-embedded
// tool-call reshaping, and abnormal-response classification, run inside
// the response direction of the ServerCompat stage (§4.4.3, §4.5).
package preprocessor

import (
	"regexp"
	"strings"
)

// Family is the closed set of provider-family wire shapes the
// preprocessor normalizes against.
type Family string

// Provider families.
const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
)

// builtinTokens are callable-looking identifiers excluded from textual
// detection to suppress false positives (§4.5 "False-positive
// suppression").
var builtinTokens = map[string]bool{
	"console": true, "json": true, "math": true, "array": true, "object": true, "string": true,
}

// textPatterns are the ordered, regex-level sliding-window textual
// detectors (§4.5 "Sliding-window textual"), compiled once at package
// init per §9 "regex compilation is not on the hot path".
var (
	toolCallLiteralRe = regexp.MustCompile(`(?s)Tool call:\s*([A-Za-z_][A-Za-z0-9_]*)\(({.*?})\)`)
	toolUseJSONRe     = regexp.MustCompile(`"type"\s*:\s*"tool_use"`)
	functionCallJSONRe = regexp.MustCompile(`"functionCall"\s*:`)
)

// windowSize and overlap define the sliding window for textual detection
// (§4.5: "window 300 bytes, 50-byte overlap").
const (
	windowSize = 300
	overlap    = 50
)

// Hit describes one detected tool-call occurrence.
type Hit struct {
	// Source identifies which detector fired.
	Source string // "structural" | "textual" | "marker"
	// Name is the called tool's name, when known (textual detector only).
	Name string
	// ArgsJSON is the raw JSON argument blob, when known (textual only).
	ArgsJSON string
	// SpanStart/SpanEnd locate the literal match within the text the
	// textual detector scanned, for later span removal. Both are -1 for
	// non-textual hits.
	SpanStart, SpanEnd int
}

// DetectStructural reports whether the family-specific structural field
// that signals a tool call is present: choices[].message.tool_calls
// (OpenAI-family), content[].type=tool_use (Anthropic-family),
// candidates[].content.parts[].functionCall (Gemini-family). Callers
// pass whether that field was observed non-empty on the decoded
// provider response; this function only wraps the boolean into a Hit
// for uniform handling alongside the other detectors.
func DetectStructural(present bool) []Hit {
	if !present {
		return nil
	}
	return []Hit{{Source: "structural", SpanStart: -1, SpanEnd: -1}}
}

// DetectMarker reports a hit when the assistant message already contains
// a tool_use content block on the client schema (§4.5 "Explicit marker").
func DetectMarker(hasToolUseBlock bool) []Hit {
	if !hasToolUseBlock {
		return nil
	}
	return []Hit{{Source: "marker", SpanStart: -1, SpanEnd: -1}}
}

// DetectTextual runs the sliding-window textual detectors over text,
// unioning hits from all three ordered patterns and applying builtin
// suppression. dedupSeen tracks span-start offsets already reported
// (used by the streaming incremental variant to dedup across chunks);
// pass nil for a one-shot, complete-response scan.
func DetectTextual(text string, dedupSeen map[int]bool) []Hit {
	var hits []Hit
	for start := 0; start < len(text); start += windowSize - overlap {
		end := start + windowSize
		if end > len(text) {
			end = len(text)
		}
		window := text[start:end]
		hits = append(hits, scanWindow(window, start, text, dedupSeen)...)
		if end == len(text) {
			break
		}
	}
	return hits
}

func scanWindow(window string, offset int, full string, dedupSeen map[int]bool) []Hit {
	var hits []Hit
	if m := toolCallLiteralRe.FindStringSubmatchIndex(window); m != nil {
		spanStart := offset + m[0]
		spanEnd := offset + m[1]
		if !isSuppressed(full, spanStart) && !alreadySeen(dedupSeen, spanStart) {
			name := window[m[2]:m[3]]
			args := window[m[4]:m[5]]
			hits = append(hits, Hit{Source: "textual", Name: name, ArgsJSON: args, SpanStart: spanStart, SpanEnd: spanEnd})
			markSeen(dedupSeen, spanStart)
		}
	}
	if loc := toolUseJSONRe.FindStringIndex(window); loc != nil {
		spanStart := offset + loc[0]
		if !alreadySeen(dedupSeen, spanStart) {
			hits = append(hits, Hit{Source: "textual", SpanStart: spanStart, SpanEnd: offset + loc[1]})
			markSeen(dedupSeen, spanStart)
		}
	}
	if loc := functionCallJSONRe.FindStringIndex(window); loc != nil {
		spanStart := offset + loc[0]
		if !alreadySeen(dedupSeen, spanStart) {
			hits = append(hits, Hit{Source: "textual", SpanStart: spanStart, SpanEnd: offset + loc[1]})
			markSeen(dedupSeen, spanStart)
		}
	}
	return hits
}

// isSuppressed reports whether the call chain immediately preceding the
// match is rooted at a language builtin (§4.5 "False-positive
// suppression"), e.g. `console.log("Tool call: f({})")` must not fire —
// not just a bare `console("Tool call: f({})")`, but any dotted chain
// hanging off a builtin receiver such as `JSON.stringify(...)`.
func isSuppressed(full string, spanStart int) bool {
	prefix := full[:spanStart]
	idx := strings.LastIndexAny(prefix, "(\"'")
	if idx < 0 {
		return false
	}
	before := prefix[:idx]
	// Trim trailing whitespace and the open-paren that introduces the
	// call's argument list, e.g. the "(" in `console.log("Tool call...`;
	// idx itself may have landed on the quote right after it.
	for len(before) > 0 {
		c := before[len(before)-1]
		if c == ' ' || c == '\t' || c == '\n' || c == '(' {
			before = before[:len(before)-1]
			continue
		}
		break
	}

	// Walk back over the contiguous identifier/dot run ending here — the
	// full call chain, e.g. "console.log" in "console.log(".
	end := len(before)
	start := end
	for start > 0 {
		c := before[start-1]
		isChainChar := c == '.' || c == '_' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isChainChar {
			break
		}
		start--
	}
	chain := before[start:end]

	for _, segment := range strings.Split(chain, ".") {
		if builtinTokens[strings.ToLower(segment)] {
			return true
		}
	}
	return false
}

func alreadySeen(seen map[int]bool, spanStart int) bool {
	return seen != nil && seen[spanStart]
}

func markSeen(seen map[int]bool, spanStart int) {
	if seen != nil {
		seen[spanStart] = true
	}
}
