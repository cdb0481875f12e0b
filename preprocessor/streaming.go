package preprocessor

// StreamState carries the rolling detection state across a single
// streamed reply's chunks (§4.5 "Streaming mode"). Zero value is ready
// to use.
type StreamState struct {
	// buffer holds the rolling window, capped at 2x windowSize; only the
	// newly-admitted bytes plus the overlap are re-scanned on each chunk.
	buffer []byte
	seen   map[int]bool
	// ToolIntentDetected is set once any detector fires during the
	// stream; termination-field correction is only emitted on the final
	// chunk (§9 open question, resolved: final-chunk only).
	ToolIntentDetected bool
}

const streamBufferCap = 2 * windowSize

// Append admits newChunk into the rolling buffer, trimming to the 2x
// window cap, and re-runs the textual detector only on the
// newly-admitted bytes plus the overlap. Each logical tool call is
// deduplicated via its span start offset so a detection triggers once.
func (s *StreamState) Append(newChunk []byte) []Hit {
	if s.seen == nil {
		s.seen = make(map[int]bool)
	}
	s.buffer = append(s.buffer, newChunk...)
	if len(s.buffer) > streamBufferCap {
		excess := len(s.buffer) - streamBufferCap
		s.buffer = s.buffer[excess:]
		// Shift dedup offsets so they remain comparable against the
		// truncated buffer's coordinate space.
		shifted := make(map[int]bool, len(s.seen))
		for k := range s.seen {
			if k-excess >= 0 {
				shifted[k-excess] = true
			}
		}
		s.seen = shifted
	}

	scanStart := len(s.buffer) - len(newChunk) - overlap
	if scanStart < 0 {
		scanStart = 0
	}
	window := string(s.buffer[scanStart:])
	// s.seen holds buffer offsets; DetectTextual works in window offsets.
	windowSeen := make(map[int]bool)
	for k := range s.seen {
		if k >= scanStart {
			windowSeen[k-scanStart] = true
		}
	}
	hits := DetectTextual(window, windowSeen)
	for i := range hits {
		hits[i].SpanStart += scanStart
		hits[i].SpanEnd += scanStart
		s.seen[hits[i].SpanStart] = true
	}
	if len(hits) > 0 {
		s.ToolIntentDetected = true
	}
	return hits
}

// Finalize returns the termination rewrite to apply on the stream's
// final chunk, given the family and any structural/marker hits observed
// out-of-band by the caller.
func (s *StreamState) Finalize(f Family, structuralOrMarkerHit bool) (field, value string, rewrite bool) {
	return NormalizeTermination(f, s.ToolIntentDetected || structuralOrMarkerHit)
}
