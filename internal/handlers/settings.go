package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/profile"
)

// HandlePoolSettings updates the pool the user is asking about. The settings come from the
// "poolType", "poolSize" and "location" form fields. Invalid settings are answered with 422 and a JSON
// object mapping each field to its error.
func (m Main) HandlePoolSettings(w http.ResponseWriter, r *http.Request) {
	sc, _, err := m.context(r)
	if err != nil {
		http.Error(w, "Sign in required", http.StatusUnauthorized)
		return
	}

	settings := models.PoolSettings{
		PoolType: strings.TrimSpace(r.FormValue("poolType")),
		PoolSize: strings.TrimSpace(r.FormValue("poolSize")),
		Location: strings.TrimSpace(r.FormValue("location")),
	}
	if errs := profile.ValidatePool(settings); len(errs) > 0 {
		m.writeInvalid(w, errs)
		return
	}

	if m.profiles != nil {
		if err := m.profiles.UpdatePool(r.Context(), sc.Subject, settings); err != nil {
			m.logger.Error("Failed to update pool settings",
				slog.String("subject", sc.Subject),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, "Failed to save pool settings", http.StatusBadGateway)
			return
		}
	}

	p := sc.Profile()
	p.Pool = settings
	sc.SetProfile(p)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleProfileSettings updates the user's nickname from the "nickname" form field.
func (m Main) HandleProfileSettings(w http.ResponseWriter, r *http.Request) {
	sc, _, err := m.context(r)
	if err != nil {
		http.Error(w, "Sign in required", http.StatusUnauthorized)
		return
	}

	nickname := strings.TrimSpace(r.FormValue("nickname"))
	if err := profile.ValidateNickname(nickname); err != nil {
		m.writeInvalid(w, map[string]string{"nickname": err.Error()})
		return
	}

	if m.profiles != nil {
		if err := m.profiles.UpdateProfile(r.Context(), sc.Subject, nickname); err != nil {
			m.logger.Error("Failed to update profile",
				slog.String("subject", sc.Subject),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, "Failed to save profile", http.StatusBadGateway)
			return
		}
	}

	p := sc.Profile()
	p.Nickname = profile.FormatName(nickname)
	sc.SetProfile(p)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (m Main) writeInvalid(w http.ResponseWriter, errs map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(map[string]any{"errors": errs}); err != nil {
		m.logger.Error("Failed to write validation errors", slog.String(errLoggerKey, err.Error()))
	}
}
