package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealthz runs every configured component check and answers 503 if
// any of them fails.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: s.service()}
	code := http.StatusOK

	if len(s.opts.Health) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp.Components = make(map[string]string, len(s.opts.Health))
		for name, check := range s.opts.Health {
			if err := check(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	if code != http.StatusOK {
		s.logger.Warn("health check failed", "components", resp.Components)
	}
	s.writeJSON(w, code, resp)
}
