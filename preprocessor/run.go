package preprocessor

import "time"

// DetectionInput bundles what the three detectors need for a complete
// (non-streamed) response (§4.5 "Tool-call detection").
type DetectionInput struct {
	Family               Family
	StructuralFieldPresent bool // e.g. choices[].message.tool_calls non-empty
	AssistantHasToolUseBlock bool
	Text                 string // concatenated text spans for textual scanning
}

// Result is the outcome of running all three detectors plus
// normalization and (if applicable) reshaping.
type Result struct {
	Hits             []Hit
	ToolIntent       bool
	TerminationField string
	TerminationValue string
	Rewrite          bool
	// Reshaped is non-nil when a textual-only hit (no structural hit) was
	// successfully reshaped into a structured tool-call block.
	Reshaped *ReshapedCall
	// TextWithSpanRemoved is Text with the reshaped literal span cut out,
	// populated only when Reshaped is non-nil.
	TextWithSpanRemoved string
}

// Run executes detection, normalization, and (when applicable) reshaping
// for a complete response, per §4.5.
func Run(in DetectionInput, now time.Time) (Result, error) {
	var hits []Hit
	hits = append(hits, DetectStructural(in.StructuralFieldPresent)...)
	hits = append(hits, DetectMarker(in.AssistantHasToolUseBlock)...)
	textualHits := DetectTextual(in.Text, nil)
	hits = append(hits, textualHits...)

	res := Result{Hits: hits, ToolIntent: len(hits) > 0}
	field, value, rewrite := NormalizeTermination(in.Family, res.ToolIntent)
	res.TerminationField, res.TerminationValue, res.Rewrite = field, value, rewrite

	if !in.StructuralFieldPresent && len(textualHits) > 0 {
		hit := textualHits[0]
		reshaped, err := Reshape(hit, now)
		if err != nil {
			return res, err
		}
		res.Reshaped = &reshaped
		res.TextWithSpanRemoved = RemoveSpan(in.Text, hit.SpanStart, hit.SpanEnd)
	}
	return res, nil
}
