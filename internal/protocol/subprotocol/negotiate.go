package subprotocol

import "strings"

// Policy names the selection rule applied by Negotiate.
type Policy string

// PolicyFirstParseable selects the first offered token that parses, so the
// proposer's ordering decides. The selector does not rank candidates.
const PolicyFirstParseable Policy = "first-parseable"

// Negotiate selects one subprotocol from offers in proposer order.
// It returns the parsed value and the exact token that won so the selector
// can echo it back unchanged. Tokens that fail to parse are skipped.
func Negotiate(offers []string) (Subprotocol, string, bool) {
	for _, raw := range offers {
		token := strings.TrimSpace(raw)
		sp, err := Parse(token)
		if err != nil {
			continue
		}
		return sp, token, true
	}
	return Subprotocol{}, "", false
}

// SplitOffer splits a raw Sec-WebSocket-Protocol header value preserving order.
func SplitOffer(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
