package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Gelotto/faceswap-client/internal/auth"
	"github.com/Gelotto/faceswap-client/internal/client"
	"github.com/Gelotto/faceswap-client/internal/models"
	"github.com/Gelotto/faceswap-client/internal/result"
	"github.com/Gelotto/faceswap-client/internal/staging"
	"github.com/Gelotto/faceswap-client/internal/stream"
)

// State is the local lifecycle position of the tracked job
type State string

const (
	StateIdle            State = "idle"
	StateCreated         State = "created"
	StateUploadingSource State = "uploading_source"
	StateUploadingTarget State = "uploading_target"
	StateSubmitted       State = "submitted"
	StateStreaming       State = "streaming"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// IsTerminal reports whether the job reached completed, failed or cancelled
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func terminalState(status models.JobStatus) State {
	switch status {
	case models.StatusCompleted:
		return StateCompleted
	case models.StatusFailed:
		return StateFailed
	default:
		return StateCancelled
	}
}

// API is the part of the transport client a session drives
type API interface {
	BaseURL() string
	CreateJob(ctx context.Context, cred auth.Credential, mode models.Mode) (*models.Job, error)
	UploadSource(ctx context.Context, cred auth.Credential, jobID string, file client.UploadFile) (*models.Job, error)
	UploadTarget(ctx context.Context, cred auth.Credential, jobID string, file client.UploadFile) (*models.Job, error)
	SubmitJob(ctx context.Context, cred auth.Credential, jobID string, fields models.SubmitFields) (*models.Job, error)
	GetJob(ctx context.Context, cred auth.Credential, jobID string) (*models.Job, error)
	CancelJob(ctx context.Context, cred auth.Credential, jobID string) (*models.Job, error)
	SetWebhook(ctx context.Context, cred auth.Credential, jobID string, hook models.WebhookRequest) (*models.Job, error)
	QuickJob(ctx context.Context, cred auth.Credential, mode models.Mode, source, target client.UploadFile) (*models.Job, error)
	OpenEvents(ctx context.Context, cred auth.Credential, jobID string) (io.ReadCloser, error)
}

// Deliverer downloads and presents a completed job's result
type Deliverer interface {
	Deliver(ctx context.Context, cred auth.Credential, jobID string, kind models.TargetKind) (*result.Delivery, error)
}

// Display is what observers render for the tracked job
type Display struct {
	JobID      string
	State      State
	Status     models.JobStatus
	Progress   int
	Stage      string
	TargetKind models.TargetKind
}

// Observer is notified of display and status text changes. Calls may come
// from the stream goroutine and must not call back into Start, Quick, Follow or Close.
type Observer interface {
	DisplayChanged(d Display)
	StatusText(text string)
}

// NopObserver ignores all notifications
type NopObserver struct{}

func (NopObserver) DisplayChanged(Display) {}
func (NopObserver) StatusText(string)      {}

// Option configures a Session
type Option func(*Session)

// WithObserver sets the observer
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
		s.reader = stream.NewReader(l)
	}
}

// StartRequest holds the inputs of a new job
type StartRequest struct {
	Source staging.Handle
	Target staging.Handle
	Mode   models.Mode
	// Token is the explicitly entered credential; empty reuses the cached one
	Token  string
	Fields models.SubmitFields
}

type streamHandle struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Session drives one job at a time from creation to result download
type Session struct {
	api      API
	resolver *auth.Resolver
	stager   *staging.Stager
	router   Deliverer
	reader   *stream.Reader
	observer Observer
	log      zerolog.Logger

	// serializes Start, Quick, Follow and Close
	opMu sync.Mutex

	mu        sync.Mutex
	display   Display
	mode      models.Mode
	lastJobID string
	lastErr   error
	active    *streamHandle
}

// New creates an idle session
func New(api API, resolver *auth.Resolver, stager *staging.Stager, router Deliverer, opts ...Option) *Session {
	s := &Session{
		api:      api,
		resolver: resolver,
		stager:   stager,
		router:   router,
		reader:   stream.NewReader(zerolog.Nop()),
		observer: NopObserver{},
		log:      zerolog.Nop(),
		display:  Display{State: StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display.State
}

// Display returns a copy of the current display state
func (s *Session) Display() Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// LastJobID returns the most recently created or followed job id
func (s *Session) LastJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastJobID
}

// Start creates a job, uploads both inputs, submits it and begins streaming events.
// It returns once the stream is open; ctx bounds the stream and the result download.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	if req.Source == nil || req.Target == nil {
		return s.reject(ErrMissingInput)
	}
	mode, ok := models.ParseMode(string(req.Mode))
	if !ok {
		return s.reject(fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode))
	}
	cred, err := s.prepare(req.Token)
	if err != nil {
		return s.reject(err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopStream()
	s.reset("", mode, StateIdle)

	s.say("Creating %s job...", mode)
	job, err := s.api.CreateJob(ctx, cred, mode)
	if err != nil {
		return s.abort("create job", err)
	}
	if job.ID == "" {
		return s.abort("create job", errors.New("server returned no job id"))
	}
	jobID := job.ID
	s.mu.Lock()
	s.display.JobID = jobID
	s.lastJobID = jobID
	s.mu.Unlock()
	s.advance(StateCreated, job)
	s.log.Info().Str("job_id", jobID).Str("mode", string(mode)).Msg("job created")

	s.advance(StateUploadingSource, nil)
	s.say("Uploading source...")
	src, err := s.stager.Stage(req.Source, staging.RoleSource)
	if err != nil {
		return s.abort("stage source", err)
	}
	if job, err = s.api.UploadSource(ctx, cred, jobID, src); err != nil {
		return s.abort("upload source", err)
	}

	s.advance(StateUploadingTarget, job)
	s.say("Uploading target...")
	tgt, err := s.stager.Stage(req.Target, staging.RoleTarget)
	if err != nil {
		return s.abort("stage target", err)
	}
	if job, err = s.api.UploadTarget(ctx, cred, jobID, tgt); err != nil {
		return s.abort("upload target", err)
	}

	s.say("Submitting job %s...", jobID)
	if job, err = s.api.SubmitJob(ctx, cred, jobID, req.Fields); err != nil {
		return s.abort("submit job", err)
	}
	s.advance(StateSubmitted, job)

	return s.openStream(ctx, cred, jobID)
}

// Quick sends both inputs in a single request, then streams the new job's events
func (s *Session) Quick(ctx context.Context, req StartRequest) error {
	if req.Source == nil || req.Target == nil {
		return s.reject(ErrMissingInput)
	}
	mode, ok := models.ParseMode(string(req.Mode))
	if !ok {
		return s.reject(fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, req.Mode))
	}
	cred, err := s.prepare(req.Token)
	if err != nil {
		return s.reject(err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopStream()
	s.reset("", mode, StateIdle)

	s.advance(StateUploadingSource, nil)
	src, err := s.stager.Stage(req.Source, staging.RoleSource)
	if err != nil {
		return s.abort("stage source", err)
	}
	tgt, err := s.stager.Stage(req.Target, staging.RoleTarget)
	if err != nil {
		return s.abort("stage target", err)
	}

	s.say("Sending quick %s job...", mode)
	job, err := s.api.QuickJob(ctx, cred, mode, src, tgt)
	if err != nil {
		return s.abort("quick job", err)
	}
	if job.ID == "" {
		return s.abort("quick job", errors.New("server returned no job id"))
	}
	s.mu.Lock()
	s.display.JobID = job.ID
	s.lastJobID = job.ID
	s.mu.Unlock()
	s.advance(StateSubmitted, job)

	return s.openStream(ctx, cred, job.ID)
}

// Follow cancels any active stream and starts streaming an existing job's events
func (s *Session) Follow(ctx context.Context, token, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return s.reject(ErrNoJobID)
	}
	cred, err := s.prepare(token)
	if err != nil {
		return s.reject(err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopStream()
	s.reset(jobID, "", StateSubmitted)
	return s.openStream(ctx, cred, jobID)
}

// CheckStatus polls a job once, defaulting to the last job id. It never touches the stream.
func (s *Session) CheckStatus(ctx context.Context, token, jobID string) (*models.Job, error) {
	id, cred, err := s.target(token, jobID)
	if err != nil {
		return nil, s.reject(err)
	}

	job, err := s.api.GetJob(ctx, cred, id)
	if err != nil {
		err = fmt.Errorf("check status: %w", err)
		s.report(err)
		return nil, err
	}
	s.applyPoll(id, *job)
	return job, nil
}

// Cancel asks the server to cancel a job, defaulting to the last job id.
// An open stream sees the cancelled event and stops on its own.
func (s *Session) Cancel(ctx context.Context, token, jobID string) (*models.Job, error) {
	id, cred, err := s.target(token, jobID)
	if err != nil {
		return nil, s.reject(err)
	}

	job, err := s.api.CancelJob(ctx, cred, id)
	if err != nil {
		err = fmt.Errorf("cancel job: %w", err)
		s.report(err)
		return nil, err
	}
	s.log.Info().Str("job_id", id).Msg("cancellation requested")
	s.applyPoll(id, *job)
	return job, nil
}

// SetWebhook registers an http(s) callback for a job's events
func (s *Session) SetWebhook(ctx context.Context, token, jobID, rawURL string, events []string) (*models.Job, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, s.reject(fmt.Errorf("%w: webhook URL must be http(s): %q", ErrInvalidInput, rawURL))
	}
	id, cred, err := s.target(token, jobID)
	if err != nil {
		return nil, s.reject(err)
	}

	job, err := s.api.SetWebhook(ctx, cred, id, models.WebhookRequest{URL: u.String(), Events: events})
	if err != nil {
		err = fmt.Errorf("set webhook: %w", err)
		s.report(err)
		return nil, err
	}
	s.say("Webhook set for job %s", id)
	return job, nil
}

// Wait blocks until the active stream and any result download finish, then
// returns the state and the last surfaced error
func (s *Session) Wait(ctx context.Context) (State, error) {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()

	if h != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			return s.State(), ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display.State, s.lastErr
}

// Close cancels the active stream and waits for it to exit
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopStream()
}

func (s *Session) prepare(token string) (auth.Credential, error) {
	if strings.TrimSpace(s.api.BaseURL()) == "" {
		return "", ErrMissingBaseURL
	}
	cred, err := s.resolver.Resolve(token)
	if errors.Is(err, auth.ErrMissingCredential) {
		return "", ErrMissingCredential
	}
	return cred, err
}

func (s *Session) target(token, jobID string) (string, auth.Credential, error) {
	id := strings.TrimSpace(jobID)
	if id == "" {
		id = s.LastJobID()
	}
	if id == "" {
		return "", "", ErrNoJobID
	}
	cred, err := s.prepare(token)
	return id, cred, err
}

func (s *Session) openStream(ctx context.Context, cred auth.Credential, jobID string) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	streamCtx, closeStream := context.WithCancel(runCtx)

	body, err := s.api.OpenEvents(streamCtx, cred, jobID)
	if err != nil {
		closeStream()
		cancelRun()
		return s.abort("open event stream", err)
	}

	h := &streamHandle{jobID: jobID, cancel: cancelRun, done: make(chan struct{})}
	s.mu.Lock()
	s.active = h
	s.display.State = StateStreaming
	d := s.display
	s.mu.Unlock()

	s.observer.DisplayChanged(d)
	s.say("Waiting for job %s...", jobID)
	s.log.Info().Str("job_id", jobID).Msg("event stream opened")

	go s.consume(runCtx, streamCtx, closeStream, h, cred, body)
	return nil
}

// stopStream cancels the active handle and waits for its goroutine
func (s *Session) stopStream() {
	s.mu.Lock()
	h := s.active
	s.active = nil
	s.mu.Unlock()

	if h == nil {
		return
	}
	h.cancel()
	<-h.done
	s.log.Debug().Str("job_id", h.jobID).Msg("event stream cancelled")
}

func (s *Session) consume(ctx, streamCtx context.Context, closeStream context.CancelFunc, h *streamHandle, cred auth.Credential, body io.ReadCloser) {
	defer close(h.done)
	defer h.cancel()

	var terminal *models.Job
	readErr := s.reader.Read(streamCtx, body, func(job models.Job) bool {
		if !s.applyStream(h, job) {
			return false
		}
		if job.Status.IsTerminal() {
			terminal = &job
			return false
		}
		return true
	})
	closeStream()
	body.Close()

	switch {
	case terminal != nil:
		s.finish(ctx, h, cred, *terminal)
	case ctx.Err() != nil || !s.owns(h):
		s.log.Debug().Str("job_id", h.jobID).Msg("event stream released")
	case readErr != nil:
		s.log.Warn().Err(readErr).Str("job_id", h.jobID).Msg("event stream interrupted")
		s.say("Event stream for job %s interrupted: %v", h.jobID, readErr)
	default:
		s.log.Warn().Str("job_id", h.jobID).Msg("event stream closed without a terminal status")
		s.say("Event stream for job %s closed before the job finished", h.jobID)
	}
}

func (s *Session) owns(h *streamHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == h
}

// applyStream writes one streamed snapshot. It reports false once h is superseded.
func (s *Session) applyStream(h *streamHandle, job models.Job) bool {
	s.mu.Lock()
	if s.active != h {
		s.mu.Unlock()
		return false
	}
	s.applyLocked(job)
	if job.Status.IsTerminal() {
		s.display.State = terminalState(job.Status)
	}
	d := s.display
	s.mu.Unlock()

	s.observer.DisplayChanged(d)
	if !job.Status.IsTerminal() {
		s.say("%s", describe(d))
	}
	return true
}

// applyPoll writes a polled snapshot into the display. A poll for another job
// switches the display to it, unless a stream for the current job is open.
func (s *Session) applyPoll(jobID string, job models.Job) {
	s.mu.Lock()
	if s.display.JobID != "" && s.display.JobID != jobID {
		if s.streamingLocked() {
			s.mu.Unlock()
			s.say("Job %s: %s", jobID, job.Status)
			return
		}
		s.display = Display{JobID: jobID, State: s.display.State}
		s.mode = ""
	}
	s.display.JobID = jobID
	s.lastJobID = jobID
	s.applyLocked(job)
	d := s.display
	s.mu.Unlock()

	s.observer.DisplayChanged(d)
	s.say("%s", describe(d))
}

// streamingLocked reports whether a stream goroutine is still running
func (s *Session) streamingLocked() bool {
	if s.active == nil {
		return false
	}
	select {
	case <-s.active.done:
		return false
	default:
		return true
	}
}

// applyLocked merges a snapshot into the display; absent fields keep their value
func (s *Session) applyLocked(job models.Job) {
	if job.Status != "" {
		s.display.Status = job.Status
	}
	if job.Progress != nil {
		s.display.Progress = job.ProgressValue()
	}
	if job.Stage != nil {
		s.display.Stage = *job.Stage
	}
	if job.TargetKind != "" {
		s.display.TargetKind = job.TargetKind
	}
	if s.mode == "" && job.Mode != "" {
		s.mode = job.Mode
	}
}

func (s *Session) finish(ctx context.Context, h *streamHandle, cred auth.Credential, job models.Job) {
	switch job.Status {
	case models.StatusCompleted:
		kind := s.resultKind()
		s.log.Info().Str("job_id", h.jobID).Str("kind", string(kind)).Msg("job completed")
		s.say("Job %s completed, downloading %s result...", h.jobID, kind)
		d, err := s.router.Deliver(ctx, cred, h.jobID, kind)
		if err != nil {
			s.fail(fmt.Errorf("download result: %w", err))
			return
		}
		s.say("Result ready: %s", d.Path)
	case models.StatusFailed:
		s.log.Warn().Str("job_id", h.jobID).Str("error", job.Error).Msg("job failed")
		if job.Error != "" {
			s.say("Job %s failed: %s", h.jobID, job.Error)
		} else {
			s.say("Job %s failed", h.jobID)
		}
	default:
		s.log.Info().Str("job_id", h.jobID).Msg("job cancelled")
		s.say("Job %s was cancelled", h.jobID)
	}
}

// resultKind prefers the last reported kind, then the one implied by the mode
func (s *Session) resultKind() models.TargetKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.display.TargetKind != "" {
		return s.display.TargetKind
	}
	if s.mode != "" {
		return s.mode.TargetKind()
	}
	return models.TargetKindImage
}

func (s *Session) reset(jobID string, mode models.Mode, state State) {
	s.mu.Lock()
	s.display = Display{JobID: jobID, State: state}
	s.mode = mode
	s.lastErr = nil
	if jobID != "" {
		s.lastJobID = jobID
	}
	d := s.display
	s.mu.Unlock()
	s.observer.DisplayChanged(d)
}

func (s *Session) advance(state State, job *models.Job) {
	s.mu.Lock()
	s.display.State = state
	if job != nil {
		s.applyLocked(*job)
	}
	d := s.display
	s.mu.Unlock()
	s.observer.DisplayChanged(d)
}

// reject surfaces an input error without touching the state machine
func (s *Session) reject(err error) error {
	s.log.Warn().Err(err).Msg("request rejected")
	s.observer.StatusText(userText(err))
	return err
}

// abort stops a start attempt and returns the session to idle so it can be retried
func (s *Session) abort(step string, err error) error {
	err = fmt.Errorf("%s: %w", step, err)
	s.mu.Lock()
	s.display.State = StateIdle
	d := s.display
	s.mu.Unlock()
	s.observer.DisplayChanged(d)
	s.fail(err)
	return err
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.report(err)
}

func (s *Session) report(err error) {
	kind := Classify(err)
	switch kind {
	case KindUnauthorized:
		s.resolver.MarkStale()
		s.log.Warn().Err(err).Msg("credential rejected")
	case KindCancelled:
		s.log.Info().Err(err).Msg("operation cancelled")
	default:
		s.log.Error().Err(err).Str("kind", kind.String()).Msg("operation failed")
	}
	s.observer.StatusText(userText(err))
}

func (s *Session) say(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	s.log.Debug().Msg(text)
	s.observer.StatusText(text)
}

func userText(err error) string {
	switch Classify(err) {
	case KindUnauthorized:
		return "Unauthorized: the server rejected the token, enter a new one"
	case KindCancelled:
		return "Cancelled"
	case KindInvalidInput:
		if errors.Is(err, ErrMissingCredential) {
			return "Enter an API token first"
		}
		return "Invalid input: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}

func describe(d Display) string {
	var b strings.Builder
	b.WriteString("Job")
	if d.JobID != "" {
		b.WriteString(" " + d.JobID)
	}
	fmt.Fprintf(&b, ": %s %d%%", d.Status, d.Progress)
	if d.Stage != "" {
		fmt.Fprintf(&b, " (%s)", d.Stage)
	}
	return b.String()
}
