package nlu

import "strings"

// keywordRules is a small, ordered set of intent heuristics used when the
// upstream NLU service is unreachable or times out (spec §6.3 "on failure
// the router falls back to a low-confidence guess based on keyword
// heuristics"). Confidence is deliberately capped below HIGH so the router
// never StartFlows on a guess — it only ever clarifies or falls back.
var keywordRules = []struct {
	intent   string
	keywords []string
}{
	{"cancel_order", []string{"cancel", "refund"}},
	{"track_order", []string{"track", "where is my order", "status"}},
	{"greeting", []string{"hi", "hello", "hey", "namaste"}},
	{"help", []string{"help", "support"}},
}

// FallbackClassify produces a best-effort ClassifyResult from keyword
// matching alone, used by the Intent Router when Classify returns a
// TransientUpstream error.
func FallbackClassify(text string) ClassifyResult {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return ClassifyResult{Intent: rule.intent, Confidence: 0.35}
			}
		}
	}
	return ClassifyResult{Intent: "unknown", Confidence: 0.0}
}
