package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/concord/internal/model"
	"github.com/seantiz/concord/internal/store"
)

// submitRequest is the JSON body for POST /submit.
type submitRequest struct {
	JobType         string          `json:"job_type"`
	JobConfig       json.RawMessage `json:"job_config"`
	AlgorithmConfig string          `json:"algorithm_config"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// exceptionResponse carries a submission failure back to the caller.
type exceptionResponse struct {
	Exception string `json:"exception"`
}

type queryRequest struct {
	JobID string `json:"job_id"`
}

type queryResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, exceptionResponse{Exception: "invalid JSON body: " + err.Error()})
		return
	}
	if req.JobType == "" {
		s.writeJSON(w, http.StatusBadRequest, exceptionResponse{Exception: "job_type is required"})
		return
	}

	jobID, err := s.opts.Jobs.SubmitJob(r.Context(), req.JobType, req.JobConfig, req.AlgorithmConfig)
	if err != nil {
		s.logger.Warn("submit rejected", "job_type", req.JobType, "error", err)
		s.writeJSON(w, http.StatusBadRequest, exceptionResponse{Exception: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, submitResponse{JobID: jobID})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status, err := s.opts.Jobs.JobStatus(r.Context(), req.JobID)
	if err != nil {
		s.logger.Error("query job", "job_id", req.JobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query job")
		return
	}

	code := http.StatusOK
	if status == model.StatusNotFound {
		code = http.StatusNotFound
	}
	s.writeJSON(w, code, queryResponse{JobID: req.JobID, Status: status})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.opts.JobStore.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	jobs, total, err := s.opts.JobStore.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
