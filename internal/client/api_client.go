package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gelotto/faceswap-client/internal/auth"
	"github.com/Gelotto/faceswap-client/internal/models"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultRequestTimeout = 120 * time.Second
)

// UploadFile is a named, typed byte stream accepted by the upload endpoints
type UploadFile interface {
	FileName() string
	ContentType() string
	Open() (io.ReadCloser, error)
}

// Timeouts configures the shared HTTP client. Request is an idle limit on each
// call: it resets whenever bytes move, so long uploads and downloads are not cut off.
// A zero Stream leaves the event stream unbounded.
type Timeouts struct {
	Connect time.Duration
	Request time.Duration
	Stream  time.Duration
}

// Option customises APIClient construction
type Option func(*APIClient)

// WithTimeouts overrides connection and request timeouts
func WithTimeouts(t Timeouts) Option {
	return func(c *APIClient) {
		c.timeouts = t
	}
}

// WithHTTPClient overrides the client used for request/response calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *APIClient) {
		c.httpClient = hc
	}
}

// WithStreamHTTPClient overrides the client used for the event stream
func WithStreamHTTPClient(hc *http.Client) Option {
	return func(c *APIClient) {
		c.streamClient = hc
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *APIClient) {
		c.log = l
	}
}

// APIClient handles communication with the face-swap job API
type APIClient struct {
	baseURL      string
	timeouts     Timeouts
	httpClient   *http.Client
	streamClient *http.Client
	log          zerolog.Logger
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, opts ...Option) *APIClient {
	c := &APIClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeouts: Timeouts{
			Connect: DefaultConnectTimeout,
			Request: DefaultRequestTimeout,
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: c.timeouts.Connect, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: c.timeouts.Request,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	if c.streamClient == nil {
		// No overall timeout: the stream is long-lived and cancelled through its context
		c.streamClient = &http.Client{
			Timeout: c.timeouts.Stream,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: c.timeouts.Connect, KeepAlive: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return c
}

// BaseURL returns the configured endpoint root
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// Health checks the unauthenticated health endpoint
func (c *APIClient) Health(ctx context.Context) (*models.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.send(c.httpClient, req, c.timeouts.Request)
	if err != nil {
		return nil, fmt.Errorf("cannot reach API at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var health models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// CreateJob creates a job for the given mode
func (c *APIClient) CreateJob(ctx context.Context, cred auth.Credential, mode models.Mode) (*models.Job, error) {
	body, err := json.Marshal(models.CreateJobRequest{Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.jobRequest(ctx, cred, http.MethodPost, "/jobs", bytes.NewReader(body), "application/json")
}

// UploadSource uploads the source artifact for a job
func (c *APIClient) UploadSource(ctx context.Context, cred auth.Credential, jobID string, file UploadFile) (*models.Job, error) {
	return c.uploadFile(ctx, cred, jobPath(jobID, "source"), file)
}

// UploadTarget uploads the target artifact for a job
func (c *APIClient) UploadTarget(ctx context.Context, cred auth.Credential, jobID string, file UploadFile) (*models.Job, error) {
	return c.uploadFile(ctx, cred, jobPath(jobID, "target"), file)
}

// SubmitJob queues a job whose inputs are uploaded
func (c *APIClient) SubmitJob(ctx context.Context, cred auth.Credential, jobID string, fields models.SubmitFields) (*models.Job, error) {
	form := url.Values{}
	if fields.ReferenceFrameNumber != nil {
		form.Set("reference_frame_number", strconv.Itoa(*fields.ReferenceFrameNumber))
	}
	return c.jobRequest(ctx, cred, http.MethodPost, jobPath(jobID, "submit"),
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

// GetJob polls the current job snapshot
func (c *APIClient) GetJob(ctx context.Context, cred auth.Credential, jobID string) (*models.Job, error) {
	return c.jobRequest(ctx, cred, http.MethodGet, jobPath(jobID, ""), nil, "")
}

// CancelJob asks the server to cancel a job
func (c *APIClient) CancelJob(ctx context.Context, cred auth.Credential, jobID string) (*models.Job, error) {
	return c.jobRequest(ctx, cred, http.MethodPost, jobPath(jobID, "cancel"), nil, "")
}

// SetWebhook registers a callback URL for the job's status events
func (c *APIClient) SetWebhook(ctx context.Context, cred auth.Credential, jobID string, hook models.WebhookRequest) (*models.Job, error) {
	body, err := json.Marshal(hook)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.jobRequest(ctx, cred, http.MethodPost, jobPath(jobID, "webhook"), bytes.NewReader(body), "application/json")
}

// QuickJob creates, uploads and submits a job in one multipart request
func (c *APIClient) QuickJob(ctx context.Context, cred auth.Credential, mode models.Mode, source, target UploadFile) (*models.Job, error) {
	body, contentType := multipartBody(func(mw *multipart.Writer) error {
		if err := mw.WriteField("mode", string(mode)); err != nil {
			return err
		}
		if err := writeFilePart(mw, "source", source); err != nil {
			return err
		}
		return writeFilePart(mw, "target", target)
	})
	return c.jobRequest(ctx, cred, http.MethodPost, "/jobs/quick", body, contentType)
}

// FetchResult returns the result artifact body. The caller must close it.
func (c *APIClient) FetchResult(ctx context.Context, cred auth.Credential, jobID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, c.httpClient, c.timeouts.Request, cred, http.MethodGet, jobPath(jobID, "result"), nil, "", "")
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// OpenEvents opens the job's server-sent event stream. The caller must close the returned body;
// cancelling ctx aborts any in-flight read.
func (c *APIClient) OpenEvents(ctx context.Context, cred auth.Credential, jobID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, c.streamClient, 0, cred, http.MethodGet, jobPath(jobID, "events"), nil, "", "text/event-stream")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamConnection, err)
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %w", ErrStreamConnection, err)
	}
	c.log.Debug().Str("job_id", jobID).Msg("event stream connected")
	return resp.Body, nil
}

func (c *APIClient) uploadFile(ctx context.Context, cred auth.Credential, path string, file UploadFile) (*models.Job, error) {
	body, contentType := multipartBody(func(mw *multipart.Writer) error {
		return writeFilePart(mw, "file", file)
	})
	return c.jobRequest(ctx, cred, http.MethodPost, path, body, contentType)
}

func (c *APIClient) jobRequest(ctx context.Context, cred auth.Credential, method, path string, body io.Reader, contentType string) (*models.Job, error) {
	resp, err := c.do(ctx, c.httpClient, c.timeouts.Request, cred, method, path, body, contentType, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

func (c *APIClient) do(ctx context.Context, hc *http.Client, idle time.Duration, cred auth.Credential, method, path string, body io.Reader, contentType, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		if closer, ok := body.(io.Closer); ok {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("Authorization", cred.Header())

	c.log.Debug().Str("method", method).Str("path", path).Msg("api request")
	resp, err := c.send(hc, req, idle)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	return resp, nil
}

// send runs req under an idle watchdog covering both bodies. Zero idle sends it as is.
func (c *APIClient) send(hc *http.Client, req *http.Request, idle time.Duration) (*http.Response, error) {
	if idle <= 0 {
		return hc.Do(req)
	}
	w := newWatchdog(req.Context(), idle)
	req = req.WithContext(w.ctx)
	if req.Body != nil && req.Body != http.NoBody {
		req.Body = &watchedBody{ReadCloser: req.Body, w: w}
	}

	resp, err := hc.Do(req)
	if err != nil {
		err = w.explain(err)
		w.stop()
		return nil, err
	}
	w.touch()
	resp.Body = &watchedBody{ReadCloser: resp.Body, w: w, release: true}
	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func jobPath(jobID, action string) string {
	p := "/jobs/" + url.PathEscape(jobID)
	if action != "" {
		p += "/" + action
	}
	return p
}

// multipartBody streams a multipart body through a pipe so large videos are never held in memory
func multipartBody(write func(*multipart.Writer) error) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		if err := write(mw); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()
	return pr, mw.FormDataContentType()
}

func writeFilePart(mw *multipart.Writer, field string, file UploadFile) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", field, err)
	}
	defer src.Close()

	contentType := file.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(field), escapeQuotes(file.FileName())))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", field, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
