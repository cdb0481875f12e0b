package preprocessor

import "testing"

func TestTerminationField(t *testing.T) {
	cases := map[Family]string{
		FamilyOpenAI:    "finish_reason",
		FamilyAnthropic: "stop_reason",
		FamilyGemini:    "finishReason",
	}
	for family, want := range cases {
		if got := TerminationField(family); got != want {
			t.Errorf("TerminationField(%s): got %q, want %q", family, got, want)
		}
	}
	if got := TerminationField(Family("unknown")); got != "" {
		t.Errorf("TerminationField(unknown): got %q, want empty", got)
	}
}

func TestToolCallTerminationValue(t *testing.T) {
	cases := map[Family]string{
		FamilyOpenAI:    "tool_calls",
		FamilyAnthropic: "tool_use",
		FamilyGemini:    "FUNCTION_CALL",
	}
	for family, want := range cases {
		if got := ToolCallTerminationValue(family); got != want {
			t.Errorf("ToolCallTerminationValue(%s): got %q, want %q", family, got, want)
		}
	}
}

// §8 invariant 5: if no detector fired, the field must not be touched.
func TestNormalizeTermination_NoToolIntentLeavesFieldUnchanged(t *testing.T) {
	field, value, rewrite := NormalizeTermination(FamilyOpenAI, false)
	if rewrite {
		t.Fatal("rewrite should be false when no tool intent was detected")
	}
	if field != "" || value != "" {
		t.Errorf("expected empty field/value, got %q/%q", field, value)
	}
}

func TestNormalizeTermination_ToolIntentRewritesPerFamily(t *testing.T) {
	field, value, rewrite := NormalizeTermination(FamilyAnthropic, true)
	if !rewrite {
		t.Fatal("rewrite should be true when tool intent was detected")
	}
	if field != "stop_reason" || value != "tool_use" {
		t.Errorf("got field=%q value=%q, want stop_reason/tool_use", field, value)
	}
}

// §8 invariant 4: idempotence — applying twice with the same hasToolIntent
// input yields the same output both times.
func TestNormalizeTermination_Idempotent(t *testing.T) {
	f1, v1, r1 := NormalizeTermination(FamilyGemini, true)
	f2, v2, r2 := NormalizeTermination(FamilyGemini, true)
	if f1 != f2 || v1 != v2 || r1 != r2 {
		t.Errorf("NormalizeTermination not idempotent: (%q,%q,%v) vs (%q,%q,%v)", f1, v1, r1, f2, v2, r2)
	}
}
