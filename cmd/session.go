package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/formatter"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/desertthunder/mdximport/internal/tracker"
	"github.com/desertthunder/mdximport/internal/ui"
	"github.com/urfave/cli/v3"
)

// lineSink prints session output as plain lines. Notices go to the logger.
type lineSink struct {
	mu     sync.Mutex
	out    io.Writer
	logger *log.Logger
	last   tracker.QueueSnapshot
	shown  bool
}

// println is also used outside the controller's loop, hence the lock.
func (s *lineSink) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

func (s *lineSink) Progress(ev tracker.ProgressEvent) {
	s.println(formatter.ProgressLine(ev))
}

// Queue skips snapshots identical to the previous one; polling repeats them.
func (s *lineSink) Queue(snap tracker.QueueSnapshot) {
	if s.shown && snap == s.last {
		return
	}
	s.last, s.shown = snap, true
	s.println(formatter.QueueLine(snap))
}

func (s *lineSink) Notice(level log.Level, msg string) {
	s.logger.Log(level, msg)
}

func (s *lineSink) Controls(tracker.Controls) {}

// credentials merges flags over [credentials.mangadex].
func (r *Runner) credentials(cmd *cli.Command) services.Credentials {
	cfg := r.config.Credentials.MangaDex
	pick := func(flag, fallback string) string {
		if v := cmd.String(flag); v != "" {
			return v
		}
		return fallback
	}

	return services.Credentials{
		Username:     pick("username", cfg.Username),
		Password:     pick("password", cfg.Password),
		ClientID:     pick("client-id", cfg.ClientID),
		ClientSecret: pick("client-secret", cfg.ClientSecret),
	}
}

func readUpload(path string) (services.Upload, error) {
	if path == "" {
		return services.Upload{}, fmt.Errorf("%w: --file", shared.ErrMissingArgument)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return services.Upload{}, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	return services.Upload{Name: filepath.Base(path), Data: data}, nil
}

// Import submits a list and prints progress and queue position until the session ends. An
// interrupt sends a cancel request first.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	upload, err := readUpload(cmd.String("file"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := &lineSink{out: r.output, logger: r.logger}
	ctrl, err := r.newController(sink)
	if err != nil {
		return err
	}
	defer ctrl.Teardown()

	id, err := ctrl.Start(ctx, r.credentials(cmd), upload)
	if err != nil {
		return err
	}
	sink.println("Session " + id)

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		r.logger.Info("interrupted, cancelling session", "session", id)
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.requestTimeout())
		defer cancel()
		if err := ctrl.Cancel(cancelCtx); err != nil {
			return err
		}
	}

	return r.report(ctrl.Session(), ctrl.Err())
}

// report prints how a session ended. A failed session is returned as an error so the exit code
// reflects it.
func (r *Runner) report(s tracker.Session, err error) error {
	switch s.Status {
	case tracker.Complete:
		r.writePlainln("✓ Import %s complete", s.ID)
	case tracker.Cancelled:
		r.writePlainln("Import %s cancelled", s.ID)
	case tracker.Failed:
		if err == nil {
			err = fmt.Errorf("%w: session %s", shared.ErrServerReported, s.ID)
		}
		return err
	}
	return nil
}

// Watch runs an import in the interactive view. Logs are redirected to a file so they do not
// interfere with rendering.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	upload, err := readUpload(cmd.String("file"))
	if err != nil {
		return err
	}

	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	bridge := ui.NewBridge(0)
	ctrl, err := r.newController(bridge)
	if err != nil {
		return err
	}
	defer ctrl.Teardown()

	model := ui.NewModel(ctx, ctrl, bridge, r.credentials(cmd), upload)
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	s := ctrl.Session()
	if s.Status == tracker.Idle {
		return model.Err()
	}
	return r.report(s, ctrl.Err())
}
