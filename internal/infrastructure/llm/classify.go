package llm

import "strings"

// ErrorKind classifies failed responses for the retry decision.
type ErrorKind int

const (
	// ErrPermanent means retrying is pointless; surface to the caller.
	ErrPermanent ErrorKind = iota
	// ErrTransient means the provider hiccuped and a retry may succeed.
	ErrTransient
)

// transientMarkers are the case-folded substrings that mark a failed
// response as transient.
var transientMarkers = []string{
	"rate limit",
	"overloaded",
	"429",
	"529",
	"503",
	"502",
	"connection",
	"timed out",
	"request timeout",
	"econnreset",
	"socket hang up",
}

// Classify decides whether a failed response is worth retrying. A successful
// response is never retried.
//
// Besides the marker list, a zero-cost failure whose text carries both
// "exceeded" and "limit" is treated as transient: some providers report a
// client-side limit error without ever answering, and the $0 cost is the
// tell that no work happened. Kept deliberately narrow — a provider-specific
// workaround, not a general rule.
func Classify(resp *Response) ErrorKind {
	if resp == nil || resp.Success {
		return ErrPermanent
	}

	text := strings.ToLower(resp.Result)
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return ErrTransient
		}
	}

	if resp.Cost == 0 && strings.Contains(text, "exceeded") && strings.Contains(text, "limit") {
		return ErrTransient
	}

	return ErrPermanent
}

// isTimeoutResponse reports whether the response came from the adapter's own
// timeout kill (these get the longer retry backoff).
func isTimeoutResponse(resp *Response) bool {
	if resp == nil {
		return false
	}
	text := strings.ToLower(resp.Result)
	return strings.Contains(text, "exceeded") && strings.Contains(text, "timeout")
}
