// Copyright (C) 2026 Seiscenter, Inc.
// See LICENSE for copying information.

package console

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/seiscenter/metad/curation/users"
)

// SessionCookie is the name of the session cookie.
const SessionCookie = "metad_session"

type contextKey int

const userContextKey contextKey = iota

// userFromContext returns the authenticated user set by withSession.
func userFromContext(ctx context.Context) (users.User, bool) {
	user, ok := ctx.Value(userContextKey).(users.User)
	return user, ok
}

// authenticate exchanges form credentials for a session cookie.
func (server *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	if err = r.ParseForm(); err != nil {
		sendJSONError(w, http.StatusBadRequest, "malformed form")
		return
	}
	name := r.PostFormValue("name")
	password := r.PostFormValue("password")

	user, err := server.users.Authenticate(ctx, name, password)
	if err != nil {
		if users.ErrBadCredentials.Has(err) || users.ErrNotFound.Has(err) {
			sendJSONError(w, http.StatusUnauthorized, "bad credentials")
			return
		}
		server.log.Error("authentication failed", zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := uuid.New()
	if err != nil {
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	session := users.Session{
		Token:   token.String(),
		UserID:  user.ID,
		Expires: time.Now().UTC().Add(server.config.SessionTTL),
	}
	if err = server.users.CreateSession(ctx, session); err != nil {
		server.log.Error("session creation failed", zap.Error(err))
		sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.Expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	sendJSON(w, http.StatusOK, map[string]string{"name": user.Name})
}

// withSession resolves the session cookie to a user and stores it in
// the request context.
func (server *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			sendJSONError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		user, err := server.users.GetSession(r.Context(), cookie.Value, time.Now().UTC())
		if err != nil {
			if users.ErrNotFound.Has(err) || users.ErrSessionExpired.Has(err) {
				sendJSONError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			server.log.Error("session lookup failed", zap.Error(err))
			sendJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// withAdmin requires the session user to hold the admin role.
func (server *Server) withAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userFromContext(r.Context())
		if !ok || !user.IsAdmin() {
			sendJSONError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
