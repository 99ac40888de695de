package api

import (
	"net/http"
	"os"
	"time"

	"pmedians/internal/buildinfo"
)

// DebugHandler reports build info and the effective service configuration.
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
	rateLimit := "off"
	if s.Limiter != nil {
		rateLimit = "on"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                 os.Getenv("PORT"),
			"RATE_RPS":             os.Getenv("RATE_RPS"),
			"RATE_BURST":           os.Getenv("RATE_BURST"),
			"WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
			"HAS_DATABASE_URL":     os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
			"HAS_RUN_WEBHOOK_URL":  os.Getenv("RUN_WEBHOOK_URL") != "",
		},
		"solve": map[string]any{
			"timeLimit": s.TimeLimit.String(),
			"maxVars":   s.MaxVars,
			"rateLimit": rateLimit,
		},
	})
}
