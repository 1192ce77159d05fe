package chat

import "strings"

// Markers the agent embeds in replies. The backend answers prompt-injection
// attempts with SentinelMarker followed by the access-denied phrase.
const (
	SentinelMarker     = "[SECURITY_ALERT]"
	AccessDeniedMarker = "Access Denied"

	// TakeoverElement stands in for the sentinel in rendered bodies. The
	// view draws it as the alert banner.
	TakeoverElement = "⟦SECURITY TAKEOVER⟧"
)

type Kind int

const (
	KindNormal Kind = iota
	KindSecurityAlert
	KindAccessDenied
)

func (k Kind) String() string {
	switch k {
	case KindSecurityAlert:
		return "security_alert"
	case KindAccessDenied:
		return "access_denied"
	}
	return "normal"
}

func Classify(body string) Kind {
	switch {
	case strings.Contains(body, SentinelMarker):
		return KindSecurityAlert
	case strings.Contains(body, AccessDeniedMarker):
		return KindAccessDenied
	}
	return KindNormal
}

// NextAlert applies a reply of kind k to the current alert state. Alerts are
// raised by the sentinel and survive an access-denied reply without it.
func NextAlert(current bool, k Kind) bool {
	switch k {
	case KindSecurityAlert:
		return true
	case KindAccessDenied:
		return current
	}
	return false
}

// Substitute swaps the first sentinel for the takeover element and drops any
// further sentinels, so the rendered body never carries the literal token.
func Substitute(body string) string {
	if !strings.Contains(body, SentinelMarker) {
		return body
	}
	body = strings.Replace(body, SentinelMarker, TakeoverElement, 1)
	return strings.ReplaceAll(body, SentinelMarker, "")
}

// Speakable is the raw reply with control markers removed, for synthesis.
func Speakable(body string) string {
	return strings.TrimSpace(strings.ReplaceAll(body, SentinelMarker, ""))
}
