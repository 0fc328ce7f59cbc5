package pop3

import "strings"

// parseChallenge extracts the APOP challenge token from a server
// greeting. The token is the first angle-bracket-delimited string in
// the banner, brackets included, as the APOP digest is computed over
// the exact bytes the server sent.
//
// A greeting without a well-formed token yields "", which downstream
// code must read as "challenge mechanism unavailable", never as an
// error.
func parseChallenge(greeting string) string {
	start := strings.IndexByte(greeting, '<')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(greeting[start:], '>')
	if end <= 1 {
		// ">" missing or the token is empty ("<>")
		return ""
	}
	return greeting[start : start+end+1]
}

// isPositive reports whether a status line is a positive acknowledgment.
// POP3 keywords are case-insensitive on the wire.
func isPositive(line string) bool {
	upper := strings.ToUpper(line)
	return upper == respOK || strings.HasPrefix(upper, respOK+" ")
}
