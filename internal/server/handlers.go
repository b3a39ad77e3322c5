package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/111LegendaryDude111/Ai-Avatar/internal/job"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/scheduler"
	"github.com/111LegendaryDude111/Ai-Avatar/internal/service"
)

// defaultMaxUploadBytes bounds the in-memory part of multipart parsing.
// Larger uploads spill to temporary files.
const defaultMaxUploadBytes = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        *service.Service
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes overrides the multipart memory limit for submissions.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *service.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        svc,
		logger:         logger,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Backend: h.service.Backend(),
	})
}

// CreateJob handles POST /api/v1/jobs requests. The body is multipart
// form data: an "image" file, exactly one of a "text" field or an "audio"
// file, and an optional "options" field holding a JSON object.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.logger.Warn("failed to parse multipart form",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	input := service.CreateJobInput{
		Text:        r.FormValue("text"),
		OptionsJSON: r.FormValue("options"),
	}

	imageData, imageName, err := readFormFile(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image upload", "INVALID_FORM")
		return
	}
	input.ImageData = imageData
	input.ImageFilename = imageName

	audioData, audioName, err := readFormFile(r, "audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid audio upload", "INVALID_FORM")
		return
	}
	input.AudioData = audioData
	input.AudioFilename = audioName

	created, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	h.logger.Info("job created",
		slog.String("job_id", created.ID),
		slog.String("status", string(created.Status)),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:  created.ID,
		Status: string(created.Status),
	})
}

// writeCreateError maps submission errors to transport responses.
func (h *Handlers) writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrImageRequired):
		writeError(w, http.StatusBadRequest, err.Error(), "IMAGE_REQUIRED")
	case errors.Is(err, service.ErrScriptOrAudioRequired):
		writeError(w, http.StatusBadRequest, err.Error(), "TEXT_OR_AUDIO_REQUIRED")
	case errors.Is(err, service.ErrInvalidOptions):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_OPTIONS")
	case errors.Is(err, scheduler.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later", "QUEUE_FULL")
	default:
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
	}
}

// GetJob handles GET /api/v1/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// ListJobs handles GET /api/v1/jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := JobListResponse{
		Jobs:  make([]JobResponse, 0, len(jobs)),
		Count: len(jobs),
	}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJobResult handles GET /api/v1/jobs/{id}/result requests. It serves
// the finished video; jobs that are still in flight get 409.
func (h *Handlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	path, err := h.service.ResultVideo(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, service.ErrResultNotReady):
			writeError(w, http.StatusConflict, err.Error(), "RESULT_NOT_READY")
		default:
			h.logger.Error("failed to resolve job result",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "result file is missing", "RESULT_MISSING")
		}
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.mp4"`)
	http.ServeFile(w, r, path)
}

// toJobResponse maps a job snapshot to its transport shape. The result
// link is only advertised once the video is ready to download.
func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		JobID:     j.ID,
		Status:    string(j.Status),
		Backend:   j.Backend,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		Progress:  j.Progress,
		Message:   j.Message,
		Error:     j.Error,
	}
	if j.Status == job.StatusSucceeded {
		resp.ResultURL = "/api/v1/jobs/" + j.ID + "/result"
		resp.VideoURL = j.VideoURL
	}
	return resp
}

// readFormFile reads one uploaded file fully into memory. A missing part
// is not an error, it returns empty data.
func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
