package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/launcher"
	"github.com/hochfrequenz/vat-batch/internal/monitor"
)

// RunResponse is returned by a successful launch
type RunResponse struct {
	Message        string     `json:"message"`
	JobID          int64      `json:"jobId"`
	Status         string     `json:"status"`
	StartTime      *time.Time `json:"startTime"`
	OutputLocation string     `json:"outputLocation,omitempty"`
}

func (s *Server) runJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		// a client hanging up must not abort a run that has already started
		ctx := context.WithoutCancel(r.Context())
		res, err := s.launcher.Launch(ctx, name)
		if errors.Is(err, launcher.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "Job not found", err.Error())
			return
		}
		if err != nil {
			s.logger.Error("launch failed", "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to start "+name, err.Error())
			return
		}

		title := res.Definition.Title
		if title == "" {
			title = res.Definition.JobName
		}
		writeJSON(w, http.StatusOK, RunResponse{
			Message:        title + " started successfully",
			JobID:          res.Execution.ID,
			Status:         string(res.Execution.Status),
			StartTime:      res.Execution.StartTime,
			OutputLocation: res.Definition.OutputLocation,
		})
	}
}

func (s *Server) jobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := s.monitor.JobsStatus(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Error fetching job status: "+err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}

func (s *Server) jobHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobName := r.PathValue("jobName")
		history, err := s.monitor.JobHistory(r.Context(), jobName)
		if errors.Is(err, monitor.ErrNoExecutions) {
			writeError(w, http.StatusNotFound, "No job instances found for: "+jobName, "")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Error fetching job details: "+err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func (s *Server) executionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("executionId"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid execution id", "")
			return
		}
		detail, err := s.monitor.ExecutionDetail(r.Context(), id)
		if errors.Is(err, monitor.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "Job execution not found", "")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Error fetching execution: "+err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": serviceName,
			"status":  "ok",
		})
	}
}

func (s *Server) readyzHandler() http.HandlerFunc {
	type checkResult struct {
		Name       string `json:"name"`
		Status     string `json:"status"`
		DurationMs int64  `json:"duration_ms"`
		Error      string `json:"error,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]checkResult, 0, len(s.checks))
		ready := true

		for _, check := range s.checks {
			start := time.Now()
			res := checkResult{Name: check.Name, Status: "ok"}
			if err := check.Check(r.Context()); err != nil {
				ready = false
				res.Status = "fail"
				res.Error = err.Error()
			}
			res.DurationMs = time.Since(start).Milliseconds()
			results = append(results, res)
		}

		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"service": serviceName,
			"status":  status,
			"checks":  results,
		})
	}
}
