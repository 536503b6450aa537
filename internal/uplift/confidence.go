package uplift

import (
	"regexp"

	"github.com/querylift/backend/pkg/utils"
)

var (
	citationPattern   = regexp.MustCompile(`(?i)\b(?:cite|cites|citing|citation|citations|sources?|references?)\b`)
	formatPattern     = regexp.MustCompile(`(?i)\b(?:format(?:ted)?\s+as|markdown|json|table|bullet\s+points|bulleted)\b`)
	structuralPattern = regexp.MustCompile(`(?i)\b(?:include|including|examples?|step-by-step|steps|sections?|organi[sz]e|list|key\s+points|differences|similarities|criteria|in\s+detail|detailed|structured?)\b`)
)

// ScoreConfidence adds up four quality signals of a rewrite, capped at 1.
func ScoreConfidence(original, improved string) float64 {
	tenths := 0
	if citationPattern.MatchString(improved) {
		tenths += 3
	}
	if formatPattern.MatchString(improved) {
		tenths += 2
	}
	if ow := utils.WordCount(original); ow > 0 && float64(utils.WordCount(improved))/float64(ow) >= 1.5 {
		tenths += 3
	}
	if structuralPattern.MatchString(improved) {
		tenths += 2
	}
	if tenths > 10 {
		tenths = 10
	}
	return float64(tenths) / 10
}
