package server

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/MrWong99/echorelay/internal/relay"
)

// requireBearer guards a handler with the configured bearer token. A missing
// or malformed Authorization header yields 401; a present-but-wrong token
// yields 403. WebSocket clients that cannot set headers may pass the token as
// an access_token query parameter instead.
//
// The token is read per request so a config reload takes effect immediately.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, relay.Kind(relay.ErrUnauthenticated), "missing bearer token")
			return
		}

		expected := s.cfg().Auth.BearerToken
		if expected == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			writeError(w, http.StatusForbidden, relay.Kind(relay.ErrForbidden), "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the client token from the Authorization header or,
// failing that, the access_token query parameter.
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", false
		}
		return token, true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// cors applies the configured origin allow-list. An empty list allows any
// origin. Preflight requests are answered directly with 204.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := s.cfg().Server.AllowedOrigins
			if len(allowed) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if slices.Contains(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
