package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/repositories"
	"github.com/desertthunder/mdximport/internal/server"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/desertthunder/mdximport/internal/tasks"
	tu "github.com/desertthunder/mdximport/internal/testing"
	"github.com/desertthunder/mdximport/internal/tracker"
	"github.com/urfave/cli/v3"
)

var credentialArgs = []string{
	"--username", "reader",
	"--password", "hunter2",
	"--client-id", "personal-client",
	"--client-secret", "s3cret",
}

type harness struct {
	runner    *Runner
	config    *shared.Config
	transport *tu.CountingTransport
	out       *bytes.Buffer
	logs      *bytes.Buffer
}

// newHarness builds a runner against a development server running in-process.
func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, env := range []string{"MDX_USERNAME", "MDX_PASSWORD", "MDX_CLIENT_ID", "MDX_CLIENT_SECRET"} {
		t.Setenv(env, "")
	}

	api, err := server.New(server.Options{
		Engine: tasks.NewImportEngine(tasks.SimulatedFollower{}, 0),
		Logger: shared.NewLogger(io.Discard),
	})
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	go api.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	config := shared.DefaultConfig()
	config.Client.BaseURL = srv.URL
	config.Database.Path = filepath.Join(t.TempDir(), "mdx.db")

	h := &harness{config: config, transport: &tu.CountingTransport{}, out: &bytes.Buffer{}, logs: &bytes.Buffer{}}
	h.runner = NewRunner(RunnerOpts{
		Config:     config,
		HTTPClient: &http.Client{Transport: h.transport},
		Logger:     shared.NewLogger(h.logs),
		Output:     h.out,
	})
	return h
}

func (h *harness) run(args ...string) error {
	app := &cli.Command{Name: "mdx", Commands: h.runner.register()}
	return app.Run(context.Background(), append([]string{"mdx"}, args...))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestImport(t *testing.T) {
	t.Run("streams progress until complete", func(t *testing.T) {
		h := newHarness(t)
		list := writeFile(t, "list.csv", "title\nBerserk\nVagabond\nMonster\n")

		if err := h.run(append([]string{"import", "--file", list}, credentialArgs...)...); err != nil {
			t.Fatalf("import failed: %v\nlogs: %s", err, h.logs.String())
		}

		out := h.out.String()
		for _, want := range []string{"Session ", "Followed Berserk", "followed 3 of 3", "✓ Import"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}

		paths := h.transport.Paths()
		for _, want := range []string{"POST /api/follow", "GET /api/progress"} {
			if !slices.Contains(paths, want) {
				t.Errorf("expected %s request, got %v", want, paths)
			}
		}
	})

	t.Run("credentials fall back to config", func(t *testing.T) {
		h := newHarness(t)
		h.config.Credentials.MangaDex = shared.MangaDexConfig{
			Username:     "reader",
			Password:     "hunter2",
			ClientID:     "personal-client",
			ClientSecret: "s3cret",
		}
		list := writeFile(t, "list.csv", "title\nBerserk\n")

		if err := h.run("import", "--file", list); err != nil {
			t.Fatalf("import failed: %v", err)
		}
		if !strings.Contains(h.out.String(), "followed 1 of 1") {
			t.Errorf("expected import to complete, got:\n%s", h.out.String())
		}
	})

	t.Run("missing credentials fail validation", func(t *testing.T) {
		h := newHarness(t)
		list := writeFile(t, "list.csv", "title\nBerserk\n")

		err := h.run("import", "--file", list, "--username", "reader")
		if !errors.Is(err, shared.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("unreadable file", func(t *testing.T) {
		h := newHarness(t)

		err := h.run(append([]string{"import", "--file", filepath.Join(t.TempDir(), "nope.csv")}, credentialArgs...)...)
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("server rejects the list", func(t *testing.T) {
		h := newHarness(t)
		list := writeFile(t, "list.txt", "Berserk\n")

		err := h.run(append([]string{"import", "--file", list}, credentialArgs...)...)
		if !errors.Is(err, shared.ErrSubmission) {
			t.Errorf("expected ErrSubmission, got %v", err)
		}
	})
}

func TestCredentials(t *testing.T) {
	for _, env := range []string{"MDX_USERNAME", "MDX_PASSWORD", "MDX_CLIENT_ID", "MDX_CLIENT_SECRET"} {
		t.Setenv(env, "")
	}
	config := shared.DefaultConfig()
	config.Credentials.MangaDex = shared.MangaDexConfig{
		Username:     "config-user",
		Password:     "config-pass",
		ClientID:     "config-id",
		ClientSecret: "config-secret",
	}
	runner := NewRunner(RunnerOpts{Config: config, Output: io.Discard})

	var got services.Credentials
	cmd := &cli.Command{
		Name:  "creds",
		Flags: credentialFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			got = runner.credentials(cmd)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"creds", "--username", "flag-user"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := services.Credentials{
		Username:     "flag-user",
		Password:     "config-pass",
		ClientID:     "config-id",
		ClientSecret: "config-secret",
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestQueueAndCancel(t *testing.T) {
	t.Run("queue prints JSON", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run("queue", "--session", "unknown", "--json"); err != nil {
			t.Fatalf("queue failed: %v", err)
		}

		var status services.QueueStatus
		if err := json.Unmarshal(h.out.Bytes(), &status); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", h.out.String(), err)
		}
		if status.Position != 0 || status.Queued != 0 {
			t.Errorf("expected empty queue, got %+v", status)
		}
	})

	t.Run("queue prints a line", func(t *testing.T) {
		h := newHarness(t)

		if err := h.run("queue", "--session", "unknown"); err != nil {
			t.Fatalf("queue failed: %v", err)
		}
		if got := h.out.String(); got != "Queue: not waiting (0 queued)\n" {
			t.Errorf("unexpected output %q", got)
		}
	})

	t.Run("cancel unknown session", func(t *testing.T) {
		h := newHarness(t)

		err := h.run("cancel", "--session", "unknown")
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})

	t.Run("server unreachable", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Client.BaseURL = "http://unreachable.test"
		service := services.NewImportService(config.Client.BaseURL, &http.Client{
			Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused")),
		})
		runner := NewRunner(RunnerOpts{
			Config:  config,
			Service: service,
			Logger:  shared.NewLogger(io.Discard),
			Output:  io.Discard,
		})
		app := &cli.Command{Name: "mdx", Commands: runner.register()}

		err := app.Run(context.Background(), []string{"mdx", "queue", "--session", "abc"})
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})
}

func TestConvert(t *testing.T) {
	mal := `<?xml version="1.0" encoding="UTF-8"?>
<myanimelist>
  <manga><manga_title>Berserk</manga_title><my_status>Reading</my_status></manga>
  <manga><manga_title>Vagabond</manga_title><my_status>On-Hold</my_status></manga>
</myanimelist>`

	t.Run("writes CSV to output", func(t *testing.T) {
		h := &harness{out: &bytes.Buffer{}}
		h.runner = NewRunner(RunnerOpts{Output: h.out, Logger: shared.NewLogger(io.Discard)})

		if err := h.run("convert", "--file", writeFile(t, "export.xml", mal)); err != nil {
			t.Fatalf("convert failed: %v", err)
		}
		want := "title,status\nBerserk,Reading\nVagabond,On-Hold\n"
		if h.out.String() != want {
			t.Errorf("expected %q, got %q", want, h.out.String())
		}
	})

	t.Run("writes CSV to file", func(t *testing.T) {
		h := &harness{out: &bytes.Buffer{}}
		h.runner = NewRunner(RunnerOpts{Output: h.out, Logger: shared.NewLogger(io.Discard)})
		dest := filepath.Join(t.TempDir(), "list.csv")

		if err := h.run("convert", "--file", writeFile(t, "export.xml", mal), "--output", dest); err != nil {
			t.Fatalf("convert failed: %v", err)
		}
		if got := tu.MustReadFile(t, dest); !strings.HasPrefix(got, "title,status\nBerserk") {
			t.Errorf("unexpected file contents %q", got)
		}
	})

	t.Run("rejects unknown formats", func(t *testing.T) {
		h := &harness{out: &bytes.Buffer{}}
		h.runner = NewRunner(RunnerOpts{Output: h.out, Logger: shared.NewLogger(io.Discard)})

		err := h.run("convert", "--file", writeFile(t, "export.json", "{}"))
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestJobs(t *testing.T) {
	seed := func(t *testing.T, h *harness) {
		t.Helper()
		db, err := h.runner.openDatabase(h.config.Database)
		if err != nil {
			t.Fatalf("openDatabase failed: %v", err)
		}
		defer db.Close()

		repo := repositories.NewJobRepository(db)
		done := models.NewJob("sess-done", "list.csv", "reader", 2)
		done.SetTitlesDone(2)
		done.Finish(models.JobComplete, "")
		for _, j := range []*models.Job{done, models.NewJob("sess-queued", "other.xml", "someone", 5)} {
			if err := repo.Create(j); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
		}
	}

	t.Run("prints a table", func(t *testing.T) {
		h := newHarness(t)
		seed(t, h)

		if err := h.run("jobs"); err != nil {
			t.Fatalf("jobs failed: %v", err)
		}
		out := h.out.String()
		for _, want := range []string{"SESSION", "sess-done", "sess-queued", "2/2"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in table:\n%s", want, out)
			}
		}
	})

	t.Run("filters by status as JSON", func(t *testing.T) {
		h := newHarness(t)
		seed(t, h)

		if err := h.run("jobs", "--status", "complete", "--json"); err != nil {
			t.Fatalf("jobs failed: %v", err)
		}

		var jobs []map[string]any
		if err := json.Unmarshal(h.out.Bytes(), &jobs); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", h.out.String(), err)
		}
		if len(jobs) != 1 || jobs[0]["id"] != "sess-done" {
			t.Errorf("expected only sess-done, got %v", jobs)
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		h := newHarness(t)

		err := h.run("jobs", "--status", "paused")
		if !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})
}

func TestSetup(t *testing.T) {
	t.Run("config writes the template once", func(t *testing.T) {
		h := &harness{out: &bytes.Buffer{}}
		h.runner = NewRunner(RunnerOpts{Output: h.out, Logger: shared.NewLogger(io.Discard)})
		path := filepath.Join(t.TempDir(), "config.toml")

		if err := h.run("setup", "config", "--config", path); err != nil {
			t.Fatalf("setup config failed: %v", err)
		}
		if _, err := shared.LoadConfig(path); err != nil {
			t.Fatalf("expected a loadable config: %v", err)
		}

		if err := os.WriteFile(path, []byte("# edited\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := h.run("setup", "config", "--config", path); err != nil {
			t.Fatalf("expected second run to succeed, got %v", err)
		}
		if got := tu.MustReadFile(t, path); got != "# edited\n" {
			t.Errorf("expected existing config to be kept, got %q", got)
		}
	})

	t.Run("database runs migrations", func(t *testing.T) {
		dir := t.TempDir()
		dbPath := filepath.Join(dir, "jobs.db")
		path := writeFile(t, "config.toml", "[database]\npath = \""+filepath.ToSlash(dbPath)+"\"\n")

		h := &harness{out: &bytes.Buffer{}}
		h.runner = NewRunner(RunnerOpts{Output: h.out, Logger: shared.NewLogger(io.Discard)})

		if err := h.run("setup", "database", "--config", path); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}

		db, err := shared.NewDatabase(dbPath)
		if err != nil {
			t.Fatalf("failed to reopen database: %v", err)
		}
		defer db.Close()
		if _, err := repositories.NewJobRepository(db).List(nil); err != nil {
			t.Errorf("expected jobs table to exist: %v", err)
		}

		if err := h.run("setup", "rollback", "--config", path); err != nil {
			t.Fatalf("setup rollback failed: %v", err)
		}
		if _, err := repositories.NewJobRepository(db).List(nil); err == nil {
			t.Error("expected jobs table to be dropped after rollback")
		}
	})

	t.Run("rollback needs a config file", func(t *testing.T) {
		h := &harness{out: &bytes.Buffer{}}
		h.runner = NewRunner(RunnerOpts{Output: h.out, Logger: shared.NewLogger(io.Discard)})

		err := h.run("setup", "rollback", "--config", filepath.Join(t.TempDir(), "missing.toml"))
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})
}

func TestLineSink(t *testing.T) {
	var out, logs bytes.Buffer
	sink := &lineSink{out: &out, logger: shared.NewLogger(&logs)}

	sink.Queue(tracker.QueueSnapshot{Position: 2, Queued: 3})
	sink.Queue(tracker.QueueSnapshot{Position: 2, Queued: 3})
	sink.Queue(tracker.QueueSnapshot{Position: 1, Queued: 2})
	sink.Notice(log.ErrorLevel, "Cancel request failed")
	sink.Controls(tracker.Controls{CancelEnabled: true})

	want := "Queue: position 2 of 3\nQueue: position 1 of 2\n"
	if out.String() != want {
		t.Errorf("expected %q, got %q", want, out.String())
	}
	if !strings.Contains(logs.String(), "Cancel request failed") {
		t.Errorf("expected notice in logs, got %q", logs.String())
	}
}

func TestReport(t *testing.T) {
	runner := NewRunner(RunnerOpts{Output: io.Discard})

	if err := runner.report(tracker.Session{ID: "a", Status: tracker.Complete}, nil); err != nil {
		t.Errorf("expected nil for a completed session, got %v", err)
	}
	if err := runner.report(tracker.Session{ID: "a", Status: tracker.Cancelled}, nil); err != nil {
		t.Errorf("expected nil for a cancelled session, got %v", err)
	}
	if err := runner.report(tracker.Session{ID: "a", Status: tracker.Failed}, nil); !errors.Is(err, shared.ErrServerReported) {
		t.Errorf("expected ErrServerReported, got %v", err)
	}
}
