package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/Gelotto/faceswap-client/internal/models"
)

// UploadRecord captures one multipart file part received by the mock
type UploadRecord struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

// MockAPIServer is a configurable mock of the face-swap job API for testing
type MockAPIServer struct {
	*httptest.Server
	mu sync.Mutex

	// Request tracking
	HealthCalls  int32
	CreateCalls  int32
	SourceCalls  int32
	TargetCalls  int32
	SubmitCalls  int32
	GetCalls     int32
	CancelCalls  int32
	WebhookCalls int32
	QuickCalls   int32
	EventsCalls  int32
	ResultCalls  int32

	openStreams int32
	maxStreams  int32

	// Ordered "METHOD path" log of every request
	CallLog []string

	// Last request data
	LastAuthorization string
	LastAccept        string
	LastMode          models.Mode
	LastSource        *UploadRecord
	LastTarget        *UploadRecord
	LastSubmitForm    url.Values
	LastWebhook       *models.WebhookRequest
	LastQuickParts    []UploadRecord

	// Configurable responses
	JobID string
	// RequiredToken makes every authenticated endpoint answer 401 unless it matches
	RequiredToken string
	// Events are raw data payloads written to the event stream in order
	Events []string
	// HoldStream keeps the event stream open after Events until the client disconnects
	HoldStream  bool
	GetResponse *models.Job
	ResultBody  []byte

	// Failure injection
	CreateError  *HTTPError
	SourceError  *HTTPError
	TargetError  *HTTPError
	SubmitError  *HTTPError
	GetError     *HTTPError
	CancelError  *HTTPError
	WebhookError *HTTPError
	QuickError   *HTTPError
	EventsError  *HTTPError
	ResultError  *HTTPError

	// Custom handlers
	CustomEventsHandler func(w http.ResponseWriter, r *http.Request)
	CustomGetHandler    func(w http.ResponseWriter, r *http.Request)
	CustomResultHandler func(w http.ResponseWriter, r *http.Request)
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Message    string
}

// NewMockAPIServer creates a new mock API server
func NewMockAPIServer() *MockAPIServer {
	mock := &MockAPIServer{
		JobID:      "abc",
		ResultBody: []byte("result-bytes"),
	}

	r := chi.NewRouter()
	r.Use(mock.record)
	r.Get("/health", mock.handleHealth)
	r.Post("/jobs", mock.handleCreate)
	r.Post("/jobs/quick", mock.handleQuick)
	r.Get("/jobs/{jobID}", mock.handleGet)
	r.Post("/jobs/{jobID}/source", mock.handleUpload(&mock.SourceCalls, func() *HTTPError { return mock.SourceError }, func(u *UploadRecord) { mock.LastSource = u }))
	r.Post("/jobs/{jobID}/target", mock.handleUpload(&mock.TargetCalls, func() *HTTPError { return mock.TargetError }, func(u *UploadRecord) { mock.LastTarget = u }))
	r.Post("/jobs/{jobID}/submit", mock.handleSubmit)
	r.Post("/jobs/{jobID}/cancel", mock.handleCancel)
	r.Post("/jobs/{jobID}/webhook", mock.handleWebhook)
	r.Get("/jobs/{jobID}/events", mock.handleEvents)
	r.Get("/jobs/{jobID}/result", mock.handleResult)

	mock.Server = httptest.NewServer(r)
	return mock
}

func (m *MockAPIServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.CallLog = append(m.CallLog, r.Method+" "+r.URL.Path)
		if r.URL.Path != "/health" {
			m.LastAuthorization = r.Header.Get("Authorization")
		}
		m.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// authorized writes a 401 and reports false when the bearer token is missing or wrong
func (m *MockAPIServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	got := r.Header.Get("Authorization")
	m.mu.Lock()
	required := m.RequiredToken
	m.mu.Unlock()

	if got == "" || (required != "" && got != "Bearer "+required) {
		http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func (m *MockAPIServer) injected(w http.ResponseWriter, e *HTTPError) bool {
	if e == nil {
		return false
	}
	http.Error(w, e.Message, e.StatusCode)
	return true
}

func (m *MockAPIServer) writeJob(w http.ResponseWriter, job models.Job) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

// Job builds a snapshot for the configured job id and last requested mode
func (m *MockAPIServer) Job(status models.JobStatus) models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode := m.LastMode
	if mode == "" {
		mode = models.DefaultMode
	}
	return models.Job{
		ID:             m.JobID,
		Status:         status,
		Mode:           mode,
		TargetKind:     mode.TargetKind(),
		OwnerID:        "owner-1",
		SourceUploaded: m.LastSource != nil,
		TargetUploaded: m.LastTarget != nil,
	}
}

func (m *MockAPIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.HealthCalls, 1)
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

func (m *MockAPIServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.CreateCalls, 1)
	if !m.authorized(w, r) || m.injected(w, m.CreateError) {
		return
	}

	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.LastMode = req.Mode
	m.mu.Unlock()

	m.writeJob(w, m.Job(models.StatusWaitingSource))
}

func (m *MockAPIServer) handleUpload(counter *int32, errFn func() *HTTPError, store func(*UploadRecord)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(counter, 1)
		if !m.authorized(w, r) || m.injected(w, errFn()) {
			return
		}

		parts, err := readParts(r)
		if err != nil || len(parts) != 1 || parts[0].Field != "file" {
			http.Error(w, "expected a single file part", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		store(&parts[0])
		m.mu.Unlock()

		status := models.StatusWaitingTarget
		if m.GetTargetCalls() > 0 {
			status = models.StatusReady
		}
		m.writeJob(w, m.Job(status))
	}
}

func (m *MockAPIServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.SubmitCalls, 1)
	if !m.authorized(w, r) || m.injected(w, m.SubmitError) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.LastSubmitForm = r.PostForm
	m.mu.Unlock()

	m.writeJob(w, m.Job(models.StatusQueued))
}

func (m *MockAPIServer) handleGet(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.GetCalls, 1)
	if m.CustomGetHandler != nil {
		m.CustomGetHandler(w, r)
		return
	}
	if !m.authorized(w, r) || m.injected(w, m.GetError) {
		return
	}

	m.mu.Lock()
	resp := m.GetResponse
	m.mu.Unlock()
	if resp != nil {
		m.writeJob(w, *resp)
		return
	}
	job := m.Job(models.StatusRunning)
	job.ID = chi.URLParam(r, "jobID")
	m.writeJob(w, job)
}

func (m *MockAPIServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.CancelCalls, 1)
	if !m.authorized(w, r) || m.injected(w, m.CancelError) {
		return
	}
	job := m.Job(models.StatusCancelled)
	job.ID = chi.URLParam(r, "jobID")
	m.writeJob(w, job)
}

func (m *MockAPIServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.WebhookCalls, 1)
	if !m.authorized(w, r) || m.injected(w, m.WebhookError) {
		return
	}

	var hook models.WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.LastWebhook = &hook
	m.mu.Unlock()

	job := m.Job(models.StatusQueued)
	job.ID = chi.URLParam(r, "jobID")
	m.writeJob(w, job)
}

func (m *MockAPIServer) handleQuick(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.QuickCalls, 1)
	if !m.authorized(w, r) || m.injected(w, m.QuickError) {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	var parts []UploadRecord
	for _, field := range []string{"source", "target"} {
		files := r.MultipartForm.File[field]
		if len(files) != 1 {
			http.Error(w, "missing "+field, http.StatusBadRequest)
			return
		}
		f, err := files[0].Open()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		f.Close()
		parts = append(parts, UploadRecord{
			Field:       field,
			FileName:    files[0].Filename,
			ContentType: files[0].Header.Get("Content-Type"),
			Data:        data,
		})
	}

	m.mu.Lock()
	m.LastMode = models.Mode(r.FormValue("mode"))
	m.LastQuickParts = parts
	m.mu.Unlock()

	m.writeJob(w, m.Job(models.StatusQueued))
}

func (m *MockAPIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.EventsCalls, 1)
	m.mu.Lock()
	m.LastAccept = r.Header.Get("Accept")
	m.mu.Unlock()

	if m.CustomEventsHandler != nil {
		m.CustomEventsHandler(w, r)
		return
	}
	if !m.authorized(w, r) || m.injected(w, m.EventsError) {
		return
	}

	open := atomic.AddInt32(&m.openStreams, 1)
	defer atomic.AddInt32(&m.openStreams, -1)
	for {
		peak := atomic.LoadInt32(&m.maxStreams)
		if open <= peak || atomic.CompareAndSwapInt32(&m.maxStreams, peak, open) {
			break
		}
	}

	m.mu.Lock()
	events := append([]string(nil), m.Events...)
	hold := m.HoldStream
	m.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for _, ev := range events {
		fmt.Fprintf(w, "data: %s\n\n", ev)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if hold {
		<-r.Context().Done()
	}
}

func (m *MockAPIServer) handleResult(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&m.ResultCalls, 1)
	if m.CustomResultHandler != nil {
		m.CustomResultHandler(w, r)
		return
	}
	if !m.authorized(w, r) || m.injected(w, m.ResultError) {
		return
	}

	m.mu.Lock()
	body := m.ResultBody
	m.mu.Unlock()
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
}

func readParts(r *http.Request) ([]UploadRecord, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	var parts []UploadRecord
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, UploadRecord{
			Field:       p.FormName(),
			FileName:    p.FileName(),
			ContentType: p.Header.Get("Content-Type"),
			Data:        data,
		})
	}
}

// Event marshals a snapshot into an event payload
func Event(job models.Job) string {
	data, _ := json.Marshal(job)
	return string(data)
}

// SetEvents replaces the scripted event payloads
func (m *MockAPIServer) SetEvents(events ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = events
}

// SetCreateError configures the create endpoint to return an error
func (m *MockAPIServer) SetCreateError(statusCode int, message string) {
	m.CreateError = &HTTPError{StatusCode: statusCode, Message: message}
}

// SetGetError configures the job status endpoint to return an error
func (m *MockAPIServer) SetGetError(statusCode int, message string) {
	m.GetError = &HTTPError{StatusCode: statusCode, Message: message}
}

// SetEventsError configures the event stream endpoint to return an error
func (m *MockAPIServer) SetEventsError(statusCode int, message string) {
	m.EventsError = &HTTPError{StatusCode: statusCode, Message: message}
}

// SetResultError configures the result endpoint to return an error
func (m *MockAPIServer) SetResultError(statusCode int, message string) {
	m.ResultError = &HTTPError{StatusCode: statusCode, Message: message}
}

// Calls returns a copy of the ordered call log (thread-safe)
func (m *MockAPIServer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// Reset clears all state and errors
func (m *MockAPIServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range []*int32{
		&m.HealthCalls, &m.CreateCalls, &m.SourceCalls, &m.TargetCalls, &m.SubmitCalls, &m.GetCalls,
		&m.CancelCalls, &m.WebhookCalls, &m.QuickCalls, &m.EventsCalls, &m.ResultCalls, &m.maxStreams,
	} {
		atomic.StoreInt32(c, 0)
	}

	m.CallLog = nil
	m.LastAuthorization = ""
	m.LastAccept = ""
	m.LastMode = ""
	m.LastSource = nil
	m.LastTarget = nil
	m.LastSubmitForm = nil
	m.LastWebhook = nil
	m.LastQuickParts = nil

	m.JobID = "abc"
	m.RequiredToken = ""
	m.Events = nil
	m.HoldStream = false
	m.GetResponse = nil
	m.ResultBody = []byte("result-bytes")

	m.CreateError = nil
	m.SourceError = nil
	m.TargetError = nil
	m.SubmitError = nil
	m.GetError = nil
	m.CancelError = nil
	m.WebhookError = nil
	m.QuickError = nil
	m.EventsError = nil
	m.ResultError = nil

	m.CustomEventsHandler = nil
	m.CustomGetHandler = nil
	m.CustomResultHandler = nil
}

// GetCreateCalls returns the number of create calls (thread-safe)
func (m *MockAPIServer) GetCreateCalls() int {
	return int(atomic.LoadInt32(&m.CreateCalls))
}

// GetSourceCalls returns the number of source upload calls (thread-safe)
func (m *MockAPIServer) GetSourceCalls() int {
	return int(atomic.LoadInt32(&m.SourceCalls))
}

// GetTargetCalls returns the number of target upload calls (thread-safe)
func (m *MockAPIServer) GetTargetCalls() int {
	return int(atomic.LoadInt32(&m.TargetCalls))
}

// GetSubmitCalls returns the number of submit calls (thread-safe)
func (m *MockAPIServer) GetSubmitCalls() int {
	return int(atomic.LoadInt32(&m.SubmitCalls))
}

// GetGetCalls returns the number of status poll calls (thread-safe)
func (m *MockAPIServer) GetGetCalls() int {
	return int(atomic.LoadInt32(&m.GetCalls))
}

// GetEventsCalls returns the number of event stream connections (thread-safe)
func (m *MockAPIServer) GetEventsCalls() int {
	return int(atomic.LoadInt32(&m.EventsCalls))
}

// GetResultCalls returns the number of result downloads (thread-safe)
func (m *MockAPIServer) GetResultCalls() int {
	return int(atomic.LoadInt32(&m.ResultCalls))
}

// OpenStreams returns the number of event streams currently connected
func (m *MockAPIServer) OpenStreams() int {
	return int(atomic.LoadInt32(&m.openStreams))
}

// MaxConcurrentStreams returns the highest number of simultaneously open streams
func (m *MockAPIServer) MaxConcurrentStreams() int {
	return int(atomic.LoadInt32(&m.maxStreams))
}
