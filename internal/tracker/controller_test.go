package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	tu "github.com/desertthunder/mdximport/internal/testing"
)

func TestNewController(t *testing.T) {
	t.Run("requires a backend", func(t *testing.T) {
		if _, err := NewController(Options{}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("starts idle with a closed done channel", func(t *testing.T) {
		h := newHarness()

		if s := h.ctrl.Session(); s.Status != Idle || s.ID != "" {
			t.Errorf("expected idle session, got %+v", s)
		}
		select {
		case <-h.ctrl.Done():
		default:
			t.Error("expected Done to be closed without a session")
		}
		if p, q := h.ctrl.States(); p != Closed || q != Closed {
			t.Errorf("expected both trackers closed, got %s/%s", p, q)
		}
	})
}

func TestControllerStart(t *testing.T) {
	t.Run("missing fields fail locally", func(t *testing.T) {
		cases := map[string]func(*services.Credentials, *services.Upload){
			"username":      func(c *services.Credentials, _ *services.Upload) { c.Username = "   " },
			"password":      func(c *services.Credentials, _ *services.Upload) { c.Password = "" },
			"client_id":     func(c *services.Credentials, _ *services.Upload) { c.ClientID = "" },
			"client_secret": func(c *services.Credentials, _ *services.Upload) { c.ClientSecret = "" },
			"file":          func(_ *services.Credentials, u *services.Upload) { *u = services.Upload{} },
		}

		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				h := newHarness()
				creds, upload := validCreds(), validUpload()
				mutate(&creds, &upload)

				_, err := h.ctrl.Start(context.Background(), creds, upload)
				if !errors.Is(err, shared.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				if n := h.backend.submits.Load(); n != 0 {
					t.Errorf("expected no submission, got %d", n)
				}
				if n := h.dialer.count(); n != 0 {
					t.Errorf("expected no channels, got %d", n)
				}
				if s := h.ctrl.Session(); s.Status != Idle {
					t.Errorf("expected Idle, got %s", s.Status)
				}
				if len(h.sink.ControlHistory()) != 0 {
					t.Error("expected controls untouched")
				}
			})
		}
	})

	t.Run("success activates both trackers", func(t *testing.T) {
		h := newHarness()

		id, err := h.start()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if id != "sess-b" {
			t.Errorf("expected sess-b, got %s", id)
		}
		if s := h.ctrl.Session(); s.Status != Active || s.ID != "sess-b" {
			t.Errorf("expected active session, got %+v", s)
		}

		pc, qc := h.progressChannel("sess-b"), h.queueChannel()
		if pc == nil || qc == nil {
			t.Fatal("expected progress and queue channels to be dialed")
		}
		if !pc.opened.Load() || !qc.opened.Load() {
			t.Error("expected both channels opened")
		}
		if p, q := h.ctrl.States(); p != Attempting || q != Attempting {
			t.Errorf("expected both attempting, got %s/%s", p, q)
		}

		controls := h.sink.ControlHistory()
		want := []Controls{{}, {CancelEnabled: true, QueueVisible: true}}
		if fmt.Sprint(controls) != fmt.Sprint(want) {
			t.Errorf("expected controls %v, got %v", want, controls)
		}
		if !h.sink.hasNotice("Starting import...") || !h.sink.hasNotice("Import enqueued (session sess-b)") {
			t.Errorf("unexpected notices %v", h.sink.Notices())
		}

		select {
		case <-h.ctrl.Done():
			t.Error("expected Done to stay open while active")
		default:
		}
	})

	t.Run("submission failure returns to idle", func(t *testing.T) {
		h := newHarness()
		h.backend.submitResp = nil
		h.backend.submitErr = fmt.Errorf("%w: status 429", shared.ErrAPIRequest)

		_, err := h.start()
		if !errors.Is(err, shared.ErrSubmission) || !errors.Is(err, shared.ErrAPIRequest) {
			t.Fatalf("expected ErrSubmission wrapping ErrAPIRequest, got %v", err)
		}
		if s := h.ctrl.Session(); s.Status != Idle {
			t.Errorf("expected Idle, got %s", s.Status)
		}
		if h.dialer.count() != 0 {
			t.Error("expected no trackers")
		}
		controls := h.sink.ControlHistory()
		if last := controls[len(controls)-1]; !last.SubmitEnabled || last.CancelEnabled {
			t.Errorf("expected submit re-enabled, got %+v", last)
		}
	})

	t.Run("response without session id creates no trackers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"user_id":"u"}`))
		}))
		defer server.Close()

		dialer := newFakeDialer()
		sink := &recordingSink{}
		ctrl, err := NewController(Options{
			Backend: services.NewImportService(server.URL, nil),
			Dialer:  dialer.Dial,
			Sink:    sink,
		})
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}

		_, err = ctrl.Start(context.Background(), validCreds(), validUpload())
		if !errors.Is(err, shared.ErrSubmission) {
			t.Fatalf("expected ErrSubmission, got %v", err)
		}
		if dialer.count() != 0 {
			t.Errorf("expected no channels, got %d", dialer.count())
		}
		controls := sink.ControlHistory()
		if last := controls[len(controls)-1]; !last.SubmitEnabled {
			t.Error("expected submit re-enabled")
		}
	})

	t.Run("second start while active is rejected", func(t *testing.T) {
		h := newHarness()
		if _, err := h.start(); err != nil {
			t.Fatalf("unexpected error %v", err)
		}

		_, err := h.start()
		if !errors.Is(err, shared.ErrSessionActive) {
			t.Fatalf("expected ErrSessionActive, got %v", err)
		}
		if n := h.backend.submits.Load(); n != 1 {
			t.Errorf("expected one submission, got %d", n)
		}
		if s := h.ctrl.Session(); s.Status != Active || s.ID != "sess-b" {
			t.Errorf("expected first session untouched, got %+v", s)
		}
	})

	t.Run("start after teardown begins a new session", func(t *testing.T) {
		h := newHarness()
		h.start()
		h.ctrl.Teardown()

		h.backend.submitResp = &services.SubmitResponse{SessionID: "sess-c"}
		id, err := h.start()
		if err != nil || id != "sess-c" {
			t.Fatalf("expected sess-c, got %s %v", id, err)
		}
		if h.progressChannel("sess-c") == nil {
			t.Error("expected a progress channel for the new session")
		}
	})

	t.Run("teardown during submission abandons the session", func(t *testing.T) {
		h := newHarness()
		h.backend.submitGate = make(chan struct{})

		result := make(chan error, 1)
		go func() {
			_, err := h.start()
			result <- err
		}()

		tu.Eventually(t, waitTimeout, func() bool { return h.ctrl.Session().Status == Starting }, "session starting")
		h.ctrl.Teardown()
		close(h.backend.submitGate)

		if err := <-result; !errors.Is(err, shared.ErrSubmission) {
			t.Fatalf("expected ErrSubmission, got %v", err)
		}
		if h.dialer.count() != 0 {
			t.Error("expected no trackers for an abandoned session")
		}
		tu.Eventually(t, waitTimeout, func() bool { return h.backend.cancels.Load() == 1 }, "abandoned session cancelled")
	})

	t.Run("failed cancel of an abandoned session is logged", func(t *testing.T) {
		h := newHarness()
		h.backend.submitGate = make(chan struct{})
		h.backend.cancelErr = errors.New("connection reset")

		result := make(chan error, 1)
		go func() {
			_, err := h.start()
			result <- err
		}()

		tu.Eventually(t, waitTimeout, func() bool { return h.ctrl.Session().Status == Starting }, "session starting")
		h.ctrl.Teardown()
		close(h.backend.submitGate)
		<-result

		tu.Eventually(t, waitTimeout, func() bool {
			logs := h.logs.String()
			return strings.Contains(logs, "cancel of abandoned session failed") &&
				strings.Contains(logs, "connection reset") && strings.Contains(logs, "sess-b")
		}, "abandoned cancel failure logged")
	})
}

func TestControllerTeardown(t *testing.T) {
	t.Run("complete event tears down exactly once", func(t *testing.T) {
		h := newHarness()
		h.start()
		pc, qc := h.progressChannel("sess-b"), h.queueChannel()
		before := len(h.sink.ControlHistory())

		pc.message(`{"type":"complete"}`)

		if p, q := h.ctrl.States(); p != Closed || q != Closed {
			t.Errorf("expected both trackers closed, got %s/%s", p, q)
		}
		if !pc.isClosed() || !qc.isClosed() {
			t.Error("expected both channels closed")
		}
		if s := h.ctrl.Session(); s.Status != Complete {
			t.Errorf("expected Complete, got %s", s.Status)
		}

		controls := h.sink.ControlHistory()
		if len(controls) != before+1 {
			t.Fatalf("expected one controls update, got %d", len(controls)-before)
		}
		if last := controls[len(controls)-1]; !last.SubmitEnabled || last.CancelEnabled {
			t.Errorf("expected submit enabled and cancel disabled, got %+v", last)
		}

		select {
		case <-h.ctrl.Done():
		default:
			t.Error("expected Done to be closed")
		}
		if h.ctrl.Err() != nil {
			t.Errorf("expected no error, got %v", h.ctrl.Err())
		}
	})

	t.Run("error event fails the session", func(t *testing.T) {
		h := newHarness()
		h.start()

		h.progressChannel("sess-b").message(`{"type":"error","msg":"login rejected"}`)

		if s := h.ctrl.Session(); s.Status != Failed {
			t.Errorf("expected Failed, got %s", s.Status)
		}
		if !errors.Is(h.ctrl.Err(), shared.ErrServerReported) {
			t.Errorf("expected ErrServerReported, got %v", h.ctrl.Err())
		}
		events := h.sink.Events()
		if last := events[len(events)-1]; last.Kind != KindError || last.Message != "login rejected" {
			t.Errorf("unexpected final event %+v", last)
		}
	})

	t.Run("twice in succession has no duplicate effects", func(t *testing.T) {
		h := newHarness()
		h.start()
		h.progressChannel("sess-b").message(`{"type":"complete"}`)
		before := len(h.sink.ControlHistory())

		h.ctrl.Teardown()
		h.ctrl.Teardown()
		if err := h.ctrl.Cancel(context.Background()); err != nil {
			t.Errorf("expected stray cancel to be a no-op, got %v", err)
		}

		if n := len(h.sink.ControlHistory()); n != before {
			t.Errorf("expected no further controls updates, got %d", n-before)
		}
		if s := h.ctrl.Session(); s.Status != Complete {
			t.Errorf("expected status to stay Complete, got %s", s.Status)
		}
		if n := h.backend.cancels.Load(); n != 0 {
			t.Errorf("expected no cancel request, got %d", n)
		}
	})

	t.Run("bare teardown returns to idle", func(t *testing.T) {
		h := newHarness()
		h.start()
		qc := h.queueChannel()

		h.ctrl.Teardown()

		if s := h.ctrl.Session(); s.Status != Idle || s.ID != "sess-b" {
			t.Errorf("expected idle with last id, got %+v", s)
		}
		if !qc.isClosed() {
			t.Error("expected queue channel closed")
		}
	})

	t.Run("late messages after teardown are ignored", func(t *testing.T) {
		h := newHarness()
		h.start()
		pc := h.progressChannel("sess-b")
		h.ctrl.Teardown()
		count := len(h.sink.Events())

		pc.forceMessage(`{"type":"progress","msg":"late"}`)
		pc.forceMessage(`{"type":"error","msg":"late"}`)

		if len(h.sink.Events()) != count {
			t.Error("expected late events to be dropped")
		}
		if s := h.ctrl.Session(); s.Status != Idle {
			t.Errorf("expected Idle, got %s", s.Status)
		}
	})
}

func TestControllerCancel(t *testing.T) {
	t.Run("no-op without a session", func(t *testing.T) {
		h := newHarness()

		if err := h.ctrl.Cancel(context.Background()); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		if h.backend.cancels.Load() != 0 {
			t.Error("expected no request")
		}
	})

	t.Run("accepted cancel tears down", func(t *testing.T) {
		h := newHarness()
		h.start()

		if err := h.ctrl.Cancel(context.Background()); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
		if s := h.ctrl.Session(); s.Status != Cancelled {
			t.Errorf("expected Cancelled, got %s", s.Status)
		}
		if !h.sink.hasNotice("Cancelled") {
			t.Errorf("expected Cancelled notice, got %v", h.sink.Notices())
		}
		if p, q := h.ctrl.States(); p != Closed || q != Closed {
			t.Errorf("expected both closed, got %s/%s", p, q)
		}
	})

	t.Run("failed cancel still tears down", func(t *testing.T) {
		h := newHarness()
		h.backend.cancelErr = fmt.Errorf("%w: status 404", shared.ErrAPIRequest)
		h.start()

		err := h.ctrl.Cancel(context.Background())
		if !errors.Is(err, shared.ErrCancelRequest) {
			t.Fatalf("expected ErrCancelRequest, got %v", err)
		}
		if !h.sink.hasNotice("Cancel request failed") {
			t.Errorf("expected failure notice, got %v", h.sink.Notices())
		}
		if s := h.ctrl.Session(); s.Status != Cancelled {
			t.Errorf("expected Cancelled, got %s", s.Status)
		}
		controls := h.sink.ControlHistory()
		if last := controls[len(controls)-1]; !last.SubmitEnabled || last.CancelEnabled {
			t.Errorf("expected controls restored, got %+v", last)
		}
	})

	t.Run("terminal events racing the request", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
			want    Status
		}{
			{"error settles as cancelled", `{"type":"error","msg":"Import cancelled"}`, Cancelled},
			{"complete still wins", `{"type":"complete","msg":"done"}`, Complete},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness()
				gate := make(chan struct{})
				h.backend.cancelGate, h.backend.cancelSeen = gate, make(chan struct{})
				h.start()
				pc := h.progressChannel("sess-b")

				errCh := make(chan error, 1)
				go func() { errCh <- h.ctrl.Cancel(context.Background()) }()

				select {
				case <-h.backend.cancelSeen:
				case <-time.After(waitTimeout):
					t.Fatal("cancel request never sent")
				}

				pc.message(tt.payload)

				if s := h.ctrl.Session(); s.Status != tt.want {
					t.Errorf("expected %s while the request is in flight, got %s", tt.want, s.Status)
				}
				select {
				case <-h.ctrl.Done():
				default:
					t.Error("expected Done closed by the terminal event")
				}

				close(gate)
				select {
				case err := <-errCh:
					if err != nil {
						t.Errorf("expected nil, got %v", err)
					}
				case <-time.After(waitTimeout):
					t.Fatal("Cancel never returned")
				}

				if s := h.ctrl.Session(); s.Status != tt.want {
					t.Errorf("expected %s after the request, got %s", tt.want, s.Status)
				}
				if err := h.ctrl.Err(); err != nil {
					t.Errorf("expected no server error, got %v", err)
				}
				if n := h.sink.restores(); n != 1 {
					t.Errorf("expected one teardown, got %d", n)
				}
				if n := pc.closed.Load(); n != 1 {
					t.Errorf("expected progress channel closed once, got %d", n)
				}
			})
		}
	})

	t.Run("server error without a cancel still fails", func(t *testing.T) {
		h := newHarness()
		h.start()

		h.progressChannel("sess-b").message(`{"type":"error","msg":"login failed"}`)

		if s := h.ctrl.Session(); s.Status != Failed {
			t.Errorf("expected Failed, got %s", s.Status)
		}
		if err := h.ctrl.Err(); !errors.Is(err, shared.ErrServerReported) {
			t.Errorf("expected ErrServerReported, got %v", err)
		}
	})
}
