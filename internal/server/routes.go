package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Document intake
	mux.HandleFunc("/upload", s.app.UploadHandler.UploadHandler)

	// Jobs
	mux.HandleFunc("/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/jobs/", s.handleJobRoutes) // Handles /jobs/{id} and subpaths

	// ML and operations
	mux.HandleFunc("/feedback", s.app.MLHandler.FeedbackHandler)
	mux.HandleFunc("/dashboard/stats", s.app.MLHandler.StatsHandler)
	mux.HandleFunc("/queue/dead-letters", s.app.MLHandler.DeadLettersHandler)
	mux.HandleFunc("/ml/retrain", s.app.MLHandler.RetrainHandler)
	mux.HandleFunc("/ml/models", s.app.MLHandler.ModelsHandler)

	// System
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/version", s.app.APIHandler.VersionHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes /jobs/{id} and its subpaths to the job handler.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		switch r.Method {
		case http.MethodGet:
			s.app.JobHandler.GetJobHandler(w, r)
		case http.MethodDelete:
			s.app.JobHandler.DeleteHandler(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "status":
		s.app.JobHandler.StatusHandler(w, r)
	case len(parts) == 2 && parts[1] == "title":
		s.app.JobHandler.UpdateTitleHandler(w, r)
	case len(parts) == 2 && parts[1] == "retry":
		s.app.JobHandler.RetryHandler(w, r)
	case len(parts) == 2 && parts[1] == "download":
		s.app.JobHandler.DownloadHandler(w, r)
	case len(parts) == 3 && parts[1] == "page":
		s.app.JobHandler.PageHandler(w, r)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
