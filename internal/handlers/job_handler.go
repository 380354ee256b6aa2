package handlers

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/jobs"
	"github.com/ternarybob/tracksync/internal/models"
)

const maxJobRequestBytes = 1 << 20

// JobHandler handles migration job API requests
type JobHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *jobs.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// CreateJobHandler creates a job and enqueues its first step
// POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req jobs.CreateJobRequest
	if err := DecodeJSON(w, r, maxJobRequestBytes, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobService.CreateJob(r.Context(), req)
	if err != nil {
		var validationErrs validator.ValidationErrors
		switch {
		case errors.As(err, &validationErrs), errors.Is(err, jobs.ErrUnknownJobType):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, interfaces.ErrNotFound):
			WriteError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error().Err(err).Msg("Failed to create job")
			WriteError(w, http.StatusInternalServerError, "Failed to create job")
		}
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler lists the jobs of a workspace
// GET /api/jobs?workspace_id=ws1
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	list, err := h.jobService.ListJobs(r.Context(), r.URL.Query().Get("workspace_id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*models.Job{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJobHandler returns a job
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetReportHandler returns the import report of a job
// GET /api/jobs/{id}/report
func (h *JobHandler) GetReportHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	report, err := h.jobService.GetReport(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// CancelJobHandler cancels a job
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.jobService.CancelJob(r.Context(), jobID)
	if err != nil {
		h.writeLookupError(w, jobID, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	h.logger.Error().Err(err).Str("job_id", jobID).Msg("Job lookup failed")
	WriteError(w, http.StatusInternalServerError, "Job lookup failed")
}
