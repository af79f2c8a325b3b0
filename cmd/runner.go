package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/desertthunder/mdximport/internal/tracker"
	"github.com/desertthunder/mdximport/internal/transport"
	"github.com/urfave/cli/v3"
)

const defaultRequestTimeout = 30 * time.Second

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	service    *services.ImportService
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Service    *services.ImportService
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration.
//
// HTTPClient is shared by the streaming connections, so it should not carry a timeout. When
// Service is nil one is built against the configured base URL with the configured request timeout.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Service == nil {
		opts.Service = services.NewImportService(opts.Config.Client.BaseURL, &http.Client{
			Transport: opts.HTTPClient.Transport,
			Timeout:   opts.Config.Client.RequestTimeout.Duration,
		})
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		service:    opts.Service,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

// SetLogger replaces the logger used by subsequent commands.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, importCommand, watchCommand, queueCommand, cancelCommand, serveCommand, jobsCommand, convertCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func (r *Runner) requestTimeout() time.Duration {
	if d := r.config.Client.RequestTimeout.Duration; d > 0 {
		return d
	}
	return defaultRequestTimeout
}

// newController builds a session controller reporting to sink.
func (r *Runner) newController(sink tracker.Sink) (*tracker.Controller, error) {
	return tracker.NewController(tracker.Options{
		Backend:      r.service,
		Dialer:       transport.NewSSEDialer(r.httpClient),
		Sink:         sink,
		Logger:       r.logger,
		PollInterval: r.config.Client.PollInterval.Duration,
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
