// Package api implements the HTTP surface of the dispatch optimizer.
package api

import (
	"net/http"
	"strings"

	"drtdispatch/internal/auth"
)

// principal verifies the bearer token of r. In dev mode a request without a
// token acts as admin so local tools work unauthenticated.
func (s *Server) principal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		p, err := s.Auth.Verify(r.Context(), strings.TrimSpace(authz[7:]))
		return p, err == nil
	}
	if s.Auth.Mode() == "dev" {
		return auth.Principal{Subject: "dev", Role: auth.RoleAdmin}, true
	}
	return auth.Principal{}, false
}

// require writes 401 or 403 and returns false unless the caller holds role.
func (s *Server) require(w http.ResponseWriter, r *http.Request, role string) (auth.Principal, bool) {
	p, ok := s.principal(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid bearer token", r.URL.Path)
		return p, false
	}
	if !p.Can(role) {
		writeProblem(w, http.StatusForbidden, "Forbidden", role+" role required", r.URL.Path)
		return p, false
	}
	return p, true
}
