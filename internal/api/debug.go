package api

import (
	"net/http"
	"time"

	"drtdispatch/internal/auth"
	"drtdispatch/internal/buildinfo"
)

// DebugJSON reports the build and the effective settings, without secrets.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleAdmin); !ok {
		return
	}
	c := s.Cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               c.HTTP.Port,
			"authMode":           c.Auth.Mode,
			"allowOrigins":       c.HTTP.AllowOrigins,
			"rateRps":            c.HTTP.RateRPS,
			"rateBurst":          c.HTTP.RateBurst,
			"webhookMaxAttempts": c.Webhooks.MaxAttempts,
			"hasDatabaseUrl":     c.Database.URL != "",
			"hasRedisUrl":        c.Redis.URL != "",
			"optimizer":          c.Optimizer,
		},
	})
}
