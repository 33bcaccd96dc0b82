package advisor

import (
	"encoding/json"
	"regexp"
	"strings"
)

// parseDecision implements the robust-parse steps of spec.md §4.3: strip
// code-fence wrappers, cut the text down to the span from the first '{'
// to the last '}' (see extractBalancedBraces), parse it as JSON, and if
// that fails fall back to a forgiving field scanner.
// Missing decision/reason keys default to DROP/Unknown.
func parseDecision(content string) Decision {
	text := stripCodeFence(content)

	if braced, ok := extractBalancedBraces(text); ok {
		text = braced
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		raw = forgivingFieldScan(content)
	}

	decision := Decision{}
	if v, ok := raw["decision"].(string); ok && v != "" {
		decision.Decision = v
	} else {
		decision.Decision = "DROP"
	}
	if v, ok := raw["reason"].(string); ok && v != "" {
		decision.Reason = v
	} else {
		decision.Reason = "Unknown"
	}
	if v, ok := raw["body"].(string); ok {
		decision.Body = v
	}

	return decision
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	parts := strings.Split(text, "```")
	if len(parts) < 2 {
		return text
	}
	fenced := parts[1]
	fenced = strings.TrimPrefix(fenced, "json")
	return fenced
}

// extractBalancedBraces returns the span from the first '{' to the last '}'
// in text. Braces are not matched against each other, so text holding two
// separate objects yields one span that does not parse as JSON; the caller
// then falls through to forgivingFieldScan.
func extractBalancedBraces(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

var fieldScanRE = map[string]*regexp.Regexp{
	"decision": regexp.MustCompile(`"decision"\s*:\s*"([^"]*)"`),
	"reason":   regexp.MustCompile(`"reason"\s*:\s*"([^"]*)"`),
	"body":     regexp.MustCompile(`"body"\s*:\s*"([^"]*)"`),
}

// forgivingFieldScan is the last-resort extractor: it regex-scans for the
// three string fields the pipeline cares about, tolerating malformed or
// truncated JSON around them.
func forgivingFieldScan(content string) map[string]interface{} {
	out := map[string]interface{}{}
	for field, re := range fieldScanRE {
		if m := re.FindStringSubmatch(content); m != nil {
			out[field] = m[1]
		}
	}
	return out
}
