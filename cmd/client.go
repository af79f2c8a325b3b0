package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/mdximport/internal/formatter"
	"github.com/desertthunder/mdximport/internal/tracker"
	"github.com/urfave/cli/v3"
)

// Queue prints one queue status poll for a session.
func (r *Runner) Queue(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("session")

	status, err := r.service.QueueStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch queue status: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, false)
	}
	return r.writePlain("%s\n", formatter.QueueLine(tracker.QueueSnapshot{
		Position: status.Position,
		Queued:   status.Queued,
	}))
}

// Cancel asks the server to drop a session it is queueing or running.
func (r *Runner) Cancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("session")

	if err := r.service.Cancel(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel session %s: %w", id, err)
	}

	r.logger.Info("session cancelled", "session", id)
	return r.writePlain("Cancelled %s\n", id)
}
