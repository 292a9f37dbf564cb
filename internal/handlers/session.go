package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/vidmirror/backend/internal/logging"
	"github.com/vidmirror/backend/internal/search"
	"github.com/vidmirror/backend/internal/session"
)

// SessionCookie names the cookie carrying the visitor session id.
const SessionCookie = "vidmirror_session"

// visitorSessions binds search state to the visitor cookie.
type visitorSessions struct {
	store SessionStore
}

// load returns the visitor's session id and state, issuing a new id when the
// cookie is absent. Unknown or expired sessions start from an empty state.
func (v visitorSessions) load(w http.ResponseWriter, r *http.Request) (string, search.State) {
	var state search.State
	if v.store == nil {
		return "", state
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		err := v.store.Load(ctx, cookie.Value, &state)
		switch {
		case err == nil:
			return cookie.Value, state
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
			return cookie.Value, search.State{}
		default:
			logger.Warn("load visitor session", "error", err)
			return cookie.Value, search.State{}
		}
	}

	id, err := v.store.NewID()
	if err != nil {
		logger.Error("issue visitor session", "error", err)
		return "", state
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(v.store.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	return id, state
}

func (v visitorSessions) save(ctx context.Context, id string, state search.State) {
	if v.store == nil || id == "" {
		return
	}
	if err := v.store.Save(ctx, id, state); err != nil {
		logging.FromContext(ctx).Error("save visitor session", "error", err)
	}
}
