package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/store"
)

type listTasksResponse struct {
	Tasks  []*model.TaskRecord `json:"tasks"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// lookupTask writes the error response and returns nil when the task
// cannot be loaded.
func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) *model.TaskRecord {
	id := chi.URLParam(r, "id")
	rec, err := s.opts.Tasks.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return nil
	}
	if err != nil {
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return nil
	}
	return rec
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if rec := s.lookupTask(w, r); rec != nil {
		s.writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	tasks, total, err := s.opts.Tasks.ListTasks(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []*model.TaskRecord{}
	}

	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleListExecutors(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Executors.List())
}

func (s *Server) handleListParties(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Parties.Snapshot())
}
