package preprocessor

// TerminationField returns the family-specific field name the
// preprocessor rewrites when tool intent is detected (§4.5 "Termination-
// signal normalization").
func TerminationField(f Family) string {
	switch f {
	case FamilyOpenAI:
		return "finish_reason"
	case FamilyAnthropic:
		return "stop_reason"
	case FamilyGemini:
		return "finishReason"
	default:
		return ""
	}
}

// ToolCallTerminationValue returns the value the termination field is
// forced to once tool intent is detected, per family.
func ToolCallTerminationValue(f Family) string {
	switch f {
	case FamilyOpenAI:
		return "tool_calls"
	case FamilyAnthropic:
		return "tool_use"
	case FamilyGemini:
		return "FUNCTION_CALL"
	default:
		return ""
	}
}

// NormalizeTermination decides the termination value to write back,
// given whether any detector fired. It returns ("", "", false) when no
// rewrite should occur — the preprocessor must never touch the field in
// that case (§4.5, and §8 invariant 5: "If no tool-call detector fires,
// the preprocessor leaves finish_reason/stop_reason/finishReason
// unchanged").
//
// Idempotence (§8 invariant 4) follows directly from this function being
// pure in hasToolIntent: applying it twice with the same input yields
// the same output both times.
func NormalizeTermination(f Family, hasToolIntent bool) (field, value string, rewrite bool) {
	if !hasToolIntent {
		return "", "", false
	}
	return TerminationField(f), ToolCallTerminationValue(f), true
}
