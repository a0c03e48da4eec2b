package api

import "net/http"

// handleGetStats reports job statistics on a Master and task statistics on
// a cluster.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.JobStore != nil {
		stats, err := s.opts.JobStore.GetJobStats(r.Context())
		if err != nil {
			s.logger.Error("get job stats", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get stats")
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
		return
	}

	stats, err := s.opts.Tasks.GetTaskStats(r.Context())
	if err != nil {
		s.logger.Error("get task stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
