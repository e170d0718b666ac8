package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/poolsight/internal/identity"
)

// HandleHome renders the conversation of the signed-in user. Requests without a resolvable identity
// get 401 Unauthorized, since sign-in happens outside this application.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	sc, _, err := m.context(r)
	if err != nil {
		m.logger.Warn("Home requested without identity", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Sign in required", http.StatusUnauthorized)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", m.pageData(sc)); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleClear empties the user's conversation, releasing the photos it holds.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	sc, _, err := m.context(r)
	if err != nil {
		http.Error(w, "Sign in required", http.StatusUnauthorized)
		return
	}

	sc.Store.Clear(r.Context())
	m.publishConversation(sc)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleSignOut tears down the user's session context and forgets their token cookie.
func (m Main) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	sub, err := m.identify(r).Subject(r.Context())
	if err == nil {
		m.registry.End(sub)
		m.logger.Info("Signed out", slog.String("subject", sub))
	}

	http.SetCookie(w, &http.Cookie{
		Name:   identity.TokenCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
