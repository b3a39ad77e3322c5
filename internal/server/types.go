// Package server provides the HTTP server for the avatar video API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateJobResponse is the HTTP response after submitting a job.
type CreateJobResponse struct {
	// JobID is the unique identifier for the created job.
	JobID string `json:"job_id"`
	// Status is the job status at response time, normally "queued". A
	// submission answered from the result cache reports "succeeded".
	Status string `json:"status"`
}

// JobResponse is the HTTP response for job status.
type JobResponse struct {
	// JobID is the unique identifier for the job.
	JobID string `json:"job_id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Backend is the generator backend the job runs on.
	Backend string `json:"generator_backend"`
	// CreatedAt is when the job was submitted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// Progress is the completion fraction in [0, 1].
	Progress float64 `json:"progress"`
	// Message is the current phase description.
	Message string `json:"message,omitempty"`
	// Error contains the failure reason for failed jobs.
	Error string `json:"error,omitempty"`
	// ResultURL is the download path for the finished video.
	ResultURL string `json:"result_url,omitempty"`
	// VideoURL is the published object-store URL, when configured.
	VideoURL string `json:"video_url,omitempty"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	// Jobs holds one entry per known job, oldest first.
	Jobs []JobResponse `json:"jobs"`
	// Count is the number of entries in Jobs.
	Count int `json:"count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Backend is the generator backend the service is configured with.
	Backend string `json:"generator_backend"`
}
