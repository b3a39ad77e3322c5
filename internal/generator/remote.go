package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Static errors for the remote backend.
var (
	// ErrRemoteEndpointRequired is returned when the endpoint URL is not configured.
	ErrRemoteEndpointRequired = errors.New("remote: endpoint URL is required")
	// ErrRemoteNoJobID is returned when the submit response contains no job ID.
	ErrRemoteNoJobID = errors.New("remote: submit returned no job ID")
	// ErrRemoteNoVideo is returned when a succeeded job carries neither inline video nor a URL.
	ErrRemoteNoVideo = errors.New("remote: succeeded job carried no video")
	// ErrRemoteServerError is returned when the service answers with a 5xx status code.
	ErrRemoteServerError = errors.New("remote: server error")
	// ErrRemoteRateLimited is returned when the service answers with a 429 status code.
	ErrRemoteRateLimited = errors.New("remote: rate limited")
	// ErrRemoteRequestFailed is returned when the request fails with another non-2xx status code.
	ErrRemoteRequestFailed = errors.New("remote: request failed")
)

// Compile-time check that Remote implements Generator.
var _ Generator = (*Remote)(nil)

// RemoteConfig holds the settings for the remote backend.
type RemoteConfig struct {
	// Endpoint is the base URL of the remote generation service.
	Endpoint string
	// APIKey authenticates against the service. Optional.
	APIKey string
	// PollInterval is the delay between status polls. Defaults to 2s.
	PollInterval time.Duration
	// MaxRetries bounds retries of transient transport failures. Defaults to 3.
	MaxRetries int
	// BaseBackoff is the initial retry backoff. Doubles per attempt. Defaults to 1s.
	BaseBackoff time.Duration
	// HTTPClient overrides the transport. Mainly for tests.
	HTTPClient *http.Client
}

// Remote delegates generation to an HTTP service that exposes the same job
// vocabulary as this server: submit returns a job ID, polling reports
// status and progress, and a succeeded job carries the video inline as
// base64 or as a download URL.
type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

// NewRemote creates the remote backend.
// Returns ErrRemoteEndpointRequired when no endpoint is configured.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, ErrRemoteEndpointRequired
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 1 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &Remote{cfg: cfg, httpClient: client}, nil
}

// Name returns the backend's registry name.
func (g *Remote) Name() string { return BackendRemote }

// Identity covers the endpoint; the API key never enters the identity.
func (g *Remote) Identity() string {
	return identity(BackendRemote, struct {
		Endpoint string `json:"endpoint"`
	}{g.cfg.Endpoint})
}

// CheckOptions accepts everything; the remote service enforces its own
// limits and rejections surface at submission.
func (g *Remote) CheckOptions(_ Options) error { return nil }

// submitRequest is the wire format for handing a task to the service.
type submitRequest struct {
	ImageBase64 string  `json:"image_base64"`
	AudioBase64 string  `json:"audio_base64"`
	Options     Options `json:"options"`
}

// submitResponse carries the remote job ID.
type submitResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

// statusResponse mirrors the remote job record.
type statusResponse struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Message     string  `json:"message,omitempty"`
	Error       string  `json:"error,omitempty"`
	VideoBase64 string  `json:"video_base64,omitempty"`
	VideoURL    string  `json:"video_url,omitempty"`
}

// Generate submits the staged inputs, polls until the remote job settles
// and materializes the video at Task.OutputPath.
func (g *Remote) Generate(ctx context.Context, task Task, progress ProgressFunc) error {
	imageB64, err := encodeFile(task.ImagePath)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	audioB64, err := encodeFile(task.AudioPath)
	if err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}

	progress(0.02, "Remote: submitting job")
	jobID, err := g.submit(ctx, submitRequest{
		ImageBase64: imageB64,
		AudioBase64: audioB64,
		Options:     task.Options,
	})
	if err != nil {
		return err
	}
	progress(0.05, "Remote: queued")

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("remote: context cancelled: %w", ctx.Err())
		case <-time.After(g.cfg.PollInterval):
		}

		st, err := g.poll(ctx, jobID)
		if err != nil {
			return err
		}

		switch st.Status {
		case "succeeded":
			progress(0.92, "Remote: downloading result")
			return g.materialize(ctx, st, task.OutputPath)
		case "failed":
			if st.Error == "" {
				st.Error = "remote generation failed"
			}
			return fmt.Errorf("remote: %s", st.Error)
		default:
			if st.Progress > 0 {
				msg := st.Message
				if msg == "" {
					msg = "Remote: rendering"
				}
				// Map the remote's own fraction into our submit..download window.
				progress(0.05+0.85*st.Progress, msg)
			}
		}
	}
}

// submit posts the task and returns the remote job ID.
func (g *Remote) submit(ctx context.Context, req submitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("remote: marshal request: %w", err)
	}

	var resp submitResponse
	if err := g.doRequestWithRetry(ctx, http.MethodPost, g.cfg.Endpoint+"/jobs", body, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRemoteNoJobID, resp.Error)
		}
		return "", ErrRemoteNoJobID
	}
	return resp.JobID, nil
}

// poll fetches the remote job record.
func (g *Remote) poll(ctx context.Context, jobID string) (statusResponse, error) {
	var resp statusResponse
	err := g.doRequestWithRetry(ctx, http.MethodGet, g.cfg.Endpoint+"/jobs/"+jobID, nil, &resp)
	return resp, err
}

// materialize writes the finished video to output, decoding the inline
// payload or downloading from the reported URL.
func (g *Remote) materialize(ctx context.Context, st statusResponse, output string) error {
	if st.VideoBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(st.VideoBase64)
		if err != nil {
			return fmt.Errorf("remote: decode video: %w", err)
		}
		if err := os.WriteFile(output, data, 0600); err != nil {
			return fmt.Errorf("remote: write video: %w", err)
		}
		return nil
	}

	if st.VideoURL != "" {
		return g.download(ctx, st.VideoURL, output)
	}

	return ErrRemoteNoVideo
}

// download streams a video URL to a local file.
func (g *Remote) download(ctx context.Context, url, output string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("remote: create download request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w with status %d", ErrRemoteRequestFailed, resp.StatusCode)
	}

	f, err := os.Create(output) // #nosec G304 - output is produced by trusted internal code
	if err != nil {
		return fmt.Errorf("remote: create output: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(output)
		return fmt.Errorf("remote: write output: %w", err)
	}
	return f.Close()
}

// doRequestWithRetry performs an HTTP request with exponential backoff on
// transient failures.
func (g *Remote) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	var lastErr error
	backoff := g.cfg.BaseBackoff

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("remote: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := g.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("remote: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (g *Remote) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}

	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("remote: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("remote: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 5xx and 429 are transient, everything else is final.
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrRemoteServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRemoteRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRemoteRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("remote: unmarshal response: %w", err)
		}
	}

	return nil
}

// encodeFile reads a file and returns its base64 encoding.
func encodeFile(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is produced by trusted internal code
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
