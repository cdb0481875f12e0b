package routing

import "github.com/protorelay/gateway/clientschema"

// ClassifierConfig parameterizes the classification algorithm (§4.1).
type ClassifierConfig struct {
	// LongContextThreshold is the token-estimate threshold above which a
	// request is routed to CategoryLongContext. Default 60000.
	LongContextThreshold int
	// BackgroundModels is the configured list of explicitly-named
	// lightweight models that route to CategoryBackground.
	BackgroundModels map[string]bool
}

// DefaultClassifierConfig returns the spec's documented defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{LongContextThreshold: 60000, BackgroundModels: map[string]bool{}}
}

// EstimateTokens applies the provider-agnostic byte-length heuristic
// (~4 bytes per token), documented as an over-estimate (§4.1 "Token
// estimate policy"). It sums the request's system prompt, every message's
// text content, and tool definitions, since all of that contributes to
// the upstream prompt.
func EstimateTokens(req *clientschema.Request) int {
	total := len(req.System)
	for _, msg := range req.Messages {
		for _, blk := range msg.Blocks {
			total += len(blk.Text)
			total += len(blk.ToolInput)
			total += len(blk.ToolContent)
		}
	}
	for _, t := range req.Tools {
		total += len(t.Name) + len(t.Description) + len(t.InputSchema)
	}
	return total / 4
}

// Classify runs the deterministic, top-to-bottom algorithm of §4.1 and
// returns the matching category. First match wins.
func Classify(req *clientschema.Request, cfg ClassifierConfig) Category {
	if cfg.LongContextThreshold <= 0 {
		cfg.LongContextThreshold = 60000
	}
	if EstimateTokens(req) >= cfg.LongContextThreshold {
		return CategoryLongContext
	}
	if req.Thinking {
		return CategoryThinking
	}
	if cfg.BackgroundModels[req.Model] {
		return CategoryBackground
	}
	if req.HasSearchTool() {
		return CategorySearch
	}
	return CategoryDefault
}
