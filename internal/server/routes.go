package server

import (
	"net/http"

	"github.com/ternarybob/tracksync/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Provider webhooks: /webhooks/{github|github-enterprise|gitlab|gitlab-enterprise}
	mux.HandleFunc("/webhooks/", s.app.WebhookHandler.ReceiveHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)   // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // /{id}, /{id}/report, /{id}/cancel

	// API routes - System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs requests (list and create)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:  s.app.JobHandler.ListJobsHandler,
		http.MethodPost: s.app.JobHandler.CreateJobHandler,
	})
}

// handleJobRoutes routes /api/jobs/{id} requests
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	segments := handlers.PathSegments(r.URL.Path, "/api/jobs/")

	switch {
	case len(segments) == 1:
		jobID := segments[0]
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
				s.app.JobHandler.GetJobHandler(w, r, jobID)
			},
		})

	case len(segments) == 2 && segments[1] == "report":
		jobID := segments[0]
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
				s.app.JobHandler.GetReportHandler(w, r, jobID)
			},
		})

	case len(segments) == 2 && segments[1] == "cancel":
		jobID := segments[0]
		RouteByMethod(w, r, MethodRouter{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) {
				s.app.JobHandler.CancelJobHandler(w, r, jobID)
			},
		})

	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
