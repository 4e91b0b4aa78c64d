package session

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // register cookie store finders

	"github.com/janekbaraniewski/reqwatch/internal/config"
)

// BootstrapFromBrowser seeds the session from cookies already present in a
// locally installed browser, so a user who is signed in to github.com in
// their normal browser never sees an interactive login. Returns the number
// of cookies imported.
func (m *Manager) BootstrapFromBrowser(ctx context.Context, source string) int {
	cookies, _ := kooky.ReadCookies(ctx, kooky.Valid, kooky.DomainHasSuffix(`github.com`))

	var imported []*http.Cookie
	for _, ck := range cookies {
		if source != "" && !strings.EqualFold(ck.Browser.Browser(), source) {
			continue
		}
		httpCookie := ck.Cookie
		imported = append(imported, &httpCookie)
	}
	if len(imported) == 0 {
		return 0
	}

	m.seedCookies(imported)
	if err := config.SaveCookies(toPersisted(imported)); err != nil {
		log.Printf("session level=warn event=bootstrap_persist_failed error=%v", err)
	}
	log.Printf("session level=info event=cookie_bootstrap source=%q imported=%d", source, len(imported))
	return len(imported)
}
