package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/formatter"
	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/repositories"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/desertthunder/mdximport/internal/tasks"
)

const (
	DefaultQueueSize       = 100
	DefaultMaxUpload       = 10 << 20
	DefaultSessionTTL      = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// Options configures an [API]. Zero values take the defaults above; a nil Jobs disables the job log.
type Options struct {
	Engine          *tasks.ImportEngine
	Jobs            *repositories.JobRepository
	Logger          *log.Logger
	QueueSize       int
	MaxUpload       int64
	SessionTTL      time.Duration
	CleanupInterval time.Duration
	JobRetention    time.Duration
	RateLimit       float64
	RateBurst       int
}

// API serves the import endpoints and runs accepted imports one at a time.
type API struct {
	opts     Options
	sessions *SessionManager
	queue    *JobQueue
	logger   *log.Logger
}

// New creates an API. Call [API.Run] to start processing the queue.
func New(opts Options) (*API, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: import engine", shared.ErrMissingArgument)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}

	return &API{
		opts:     opts,
		sessions: NewSessionManager(),
		queue:    NewJobQueue(opts.QueueSize),
		logger:   opts.Logger,
	}, nil
}

// Handler builds the router for the five import endpoints.
func (a *API) Handler() http.Handler {
	r := NewBasicRouter()
	r.Use(Recover(a.logger), Logging(a.logger))

	r.Handle(http.MethodPost, "/api/follow", RateLimit(a.opts.RateLimit, a.opts.RateBurst)(http.HandlerFunc(a.HandleFollow)))
	r.HandleFunc(http.MethodGet, "/api/progress", a.HandleProgress)
	r.HandleFunc(http.MethodGet, "/api/queue/subscribe", a.HandleQueueSubscribe)
	r.HandleFunc(http.MethodGet, "/api/queue", a.HandleQueue)
	r.HandleFunc(http.MethodPost, "/api/cancel", a.HandleCancel)
	return r
}

// Run processes queued sessions until ctx ends, reaping stale sessions along the way. When ctx ends
// every open session is cancelled, including the running one.
func (a *API) Run(ctx context.Context) error {
	context.AfterFunc(ctx, a.closeSessions)
	go a.cleanupLoop(ctx)

	for {
		s, err := a.queue.Next(ctx)
		if err != nil {
			return err
		}
		a.process(s)
	}
}

// ListenAndServe serves the API on addr and runs the queue until ctx ends, then shuts down.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go a.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("import server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// HandleFollow accepts a multipart upload of credentials plus a manga list and queues the import.
//
// POST /api/follow -> {"session_id": "...", "position": n}
func (a *API) HandleFollow(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > a.opts.MaxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.opts.MaxUpload)
	if err := r.ParseMultipartForm(a.opts.MaxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	creds := services.Credentials{
		Username:     r.FormValue("username"),
		Password:     r.FormValue("password"),
		ClientID:     r.FormValue("client_id"),
		ClientSecret: r.FormValue("client_secret"),
	}.Normalize()
	if missing := creds.Missing(); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing fields: %v", missing))
		return
	}

	file, header, err := r.FormFile(services.UploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, services.UploadField+" file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	list, err := formatter.ParseMangaList(header.Filename, data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(list.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "no titles found in "+header.Filename)
		return
	}

	id := shared.GenerateID()
	s := a.sessions.Create(id, creds, list)
	s.Job = models.NewJob(id, header.Filename, creds.Username, len(list.Entries))
	a.createJob(s.Job)

	position, err := a.queue.Enqueue(s)
	if err != nil {
		a.sessions.Remove(id)
		s.Job.Finish(models.JobFailed, err.Error())
		a.saveJob(s.Job)
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	a.logger.Info("import queued", "session", id, "file", header.Filename, "titles", len(list.Entries), "position", position)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "position": position})
}

// HandleProgress streams a session's progress events, ending after complete or error.
//
// GET /api/progress?session_id=...
func (a *API) HandleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	s, ok := a.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}

	flusher, ok := startStream(w)
	if !ok {
		return
	}

	for i := 0; ; {
		events, changed, closed := s.log.since(i)
		for _, ev := range events {
			if err := writeEvent(w, ev); err != nil {
				return
			}
			i++
		}
		flusher.Flush()
		if closed {
			return
		}

		select {
		case <-changed:
		case <-r.Context().Done():
			return
		}
	}
}

// HandleQueueSubscribe streams the queue order: the current order first, then every change.
//
// GET /api/queue/subscribe
func (a *API) HandleQueueSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	updates, order, unsubscribe := a.queue.Subscribe()
	defer unsubscribe()

	for {
		if err := writeEvent(w, queueBroadcast{Order: order, Queued: len(order)}); err != nil {
			return
		}
		flusher.Flush()

		select {
		case order = <-updates:
		case <-r.Context().Done():
			return
		}
	}
}

// HandleQueue reports a session's place in the queue.
//
// GET /api/queue?session_id=... -> {"position": n, "queued": m}
func (a *API) HandleQueue(w http.ResponseWriter, r *http.Request) {
	position, queued := a.queue.Position(r.URL.Query().Get("session_id"))
	writeJSON(w, http.StatusOK, services.QueueStatus{Position: position, Queued: queued})
}

// HandleCancel drops a session from the queue or stops its running import.
//
// POST /api/cancel?session_id=...
func (a *API) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	s, ok := a.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}

	a.stop(s, "")
	a.logger.Info("import cancelled", "session", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type queueBroadcast struct {
	Order  []string `json:"queue_order"`
	Queued int      `json:"queued"`
}

// stop cancels a session. A session still waiting is finished here; a running one is finished by the
// worker once the engine returns.
//
// With a reason the stream ends on an error event carrying it. Without one the client asked for the
// cancel, so the stream just ends and the client settles the session itself.
func (a *API) stop(s *Session, reason string) {
	if a.queue.Remove(s.ID) {
		msg := reason
		if msg == "" {
			msg = "cancelled"
		}
		s.Job.Finish(models.JobCancelled, msg)
		a.saveJob(s.Job)
	}
	s.cancel()
	if reason == "" {
		s.End()
		return
	}
	s.Emit(ProgressEvent{Type: EventError, Msg: reason})
}

func (a *API) process(s *Session) {
	logger := shared.WithLogger(a.logger, "session", s.ID)
	if s.Cancelled() {
		logger.Debug("skipping cancelled session")
		return
	}

	s.Job.SetStatus(models.JobRunning)
	a.saveJob(s.Job)
	logger.Info("import started", "titles", s.Job.TitlesTotal())

	progress := make(chan tasks.ProgressUpdate)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for u := range progress {
			ev := ProgressEvent{Type: EventProgress, Msg: u.Message}
			if p := u.Percent(); p >= 0 {
				ev.Percent = &p
			}
			if u.Phase == tasks.FollowTitles {
				s.Job.SetTitlesDone(u.Step)
			}
			s.Emit(ev)
		}
	}()

	result, err := a.opts.Engine.Run(s.ctx, progress, s.Creds, s.List)
	close(progress)
	<-forwarded

	switch {
	case s.Cancelled():
		s.Job.Finish(models.JobCancelled, "cancelled")
		logger.Info("import cancelled while running")
	case err != nil:
		s.Job.Finish(models.JobFailed, err.Error())
		s.Emit(ProgressEvent{Type: EventError, Msg: err.Error()})
		logger.Error("import failed", "error", err)
	default:
		msg := fmt.Sprintf("Import complete: followed %d of %d titles", result.Followed, result.Total)
		var errMsg string
		if n := len(result.Failed); n > 0 {
			errMsg = fmt.Sprintf("%d titles failed", n)
		}
		s.Job.Finish(models.JobComplete, errMsg)
		s.Emit(ProgressEvent{Type: EventComplete, Msg: msg})
		logger.Info("import complete", "followed", result.Followed, "failed", len(result.Failed))
	}
	a.saveJob(s.Job)
}

func (a *API) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cleanup(time.Now())
		}
	}
}

func (a *API) cleanup(now time.Time) {
	for _, s := range a.sessions.CleanupStale(a.opts.SessionTTL) {
		a.stop(s, "Session expired")
		a.logger.Debug("reaped stale session", "session", s.ID)
	}

	if a.opts.Jobs != nil && a.opts.JobRetention > 0 {
		n, err := a.opts.Jobs.Prune(now.Add(-a.opts.JobRetention))
		if err != nil {
			a.logger.Warn("failed to prune job log", "error", err)
		} else if n > 0 {
			a.logger.Debug("pruned job log", "jobs", n)
		}
	}
}

func (a *API) closeSessions() {
	for _, s := range a.sessions.RemoveAll() {
		a.stop(s, "Server shutting down")
	}
}

func (a *API) createJob(job *models.Job) {
	if a.opts.Jobs == nil {
		return
	}
	if err := a.opts.Jobs.Create(job); err != nil {
		a.logger.Warn("failed to record job", "session", job.ID(), "error", err)
	}
}

func (a *API) saveJob(job *models.Job) {
	if a.opts.Jobs == nil {
		return
	}
	if err := a.opts.Jobs.Update(job); err != nil {
		a.logger.Warn("failed to update job", "session", job.ID(), "error", err)
	}
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeEvent(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
