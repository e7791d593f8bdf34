package flow

import (
	"regexp"
	"strings"
)

var (
	orderIDDirect = regexp.MustCompile(`[0-9]{5,20}`)

	// Common phrasings around an order number.
	orderIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`订单[号：:\s]*([0-9]{5,20})`),
		regexp.MustCompile(`(?:order[_\s]?id[：:\s=]*)([0-9]{5,20})`),
		regexp.MustCompile(`(?:单号|运单|快递)[：:\s]*([0-9]{5,20})`),
	}
)

// extractOrderID pulls an order number out of a free-text message.
// Returns "" when nothing matches.
func extractOrderID(message string) string {
	if match := orderIDDirect.FindString(message); match != "" {
		return match
	}
	message = strings.TrimSpace(message)
	for _, re := range orderIDPatterns {
		if matches := re.FindStringSubmatch(message); len(matches) > 1 && matches[1] != "" {
			return matches[1]
		}
	}
	return ""
}

func trimSpaces(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
