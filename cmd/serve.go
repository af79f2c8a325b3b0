package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/mdximport/internal/repositories"
	"github.com/desertthunder/mdximport/internal/server"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/desertthunder/mdximport/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Serve runs the development import server until interrupted. Imports are simulated: every title
// is "followed" after the configured step delay.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Server

	addr := cmd.String("addr")
	if addr == "" {
		addr = cfg.Addr()
	}
	stepDelay := cfg.StepDelay.Duration
	if cmd.IsSet("step-delay") {
		stepDelay = cmd.Duration("step-delay")
	}

	opts := server.Options{
		Engine:       tasks.NewImportEngine(tasks.SimulatedFollower{Delay: stepDelay / 2}, stepDelay),
		Logger:       shared.WithLogger(r.logger, "component", "server"),
		QueueSize:    cfg.QueueSize,
		JobRetention: cmd.Duration("job-retention"),
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	}

	if !cmd.Bool("no-db") {
		db, err := r.openDatabase(r.config.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Jobs = repositories.NewJobRepository(db)
	}

	api, err := server.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("starting development server", "addr", addr, "step_delay", stepDelay, "job_log", opts.Jobs != nil)
	return api.ListenAndServe(ctx, addr)
}
