// Package session owns the authenticated browsing context against the
// GitHub billing page and the state machine that decides when usage
// fetching is allowed.
package session

import (
	"strings"

	"github.com/janekbaraniewski/reqwatch/internal/core"
)

// Navigation surfaces, overridable in tests.
var (
	BillingURL = "https://github.com/settings/billing"
	LoginURL   = "https://github.com/login"
)

const (
	loginPattern   = "github.com/login"
	sessionPattern = "github.com/session"
	billingPattern = "/settings/billing"
)

// Classify maps a navigation URL onto a session state. It is the single
// decision point for auth classification; the callback plumbing that
// delivers URLs never decides anything itself.
func Classify(url string) core.SessionState {
	url = strings.TrimSpace(url)
	if url == "" {
		return core.SessionUnknown
	}
	if strings.Contains(url, loginPattern) || strings.Contains(url, sessionPattern) {
		return core.SessionUnauthenticated
	}
	if strings.Contains(url, billingPattern) {
		return core.SessionAuthenticated
	}
	return core.SessionUnknown
}
