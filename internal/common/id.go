package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewReportID generates a unique import report ID with the "rpt_" prefix
func NewReportID() string {
	return "rpt_" + uuid.New().String()
}

// NewCredentialID generates a unique credential ID with the "cred_" prefix
func NewCredentialID() string {
	return "cred_" + uuid.New().String()
}

// NewBatchPlanID generates a unique batch plan ID with the "plan_" prefix
func NewBatchPlanID() string {
	return "plan_" + uuid.New().String()
}
