package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/mdximport/internal/formatter"
	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/repositories"
	"github.com/desertthunder/mdximport/internal/shared"
	"github.com/urfave/cli/v3"
)

// Jobs lists the development server's job log, newest first.
func (r *Runner) Jobs(ctx context.Context, cmd *cli.Command) error {
	criteria := map[string]any{
		"username": cmd.String("username"),
		"limit":    int(cmd.Int("limit")),
	}
	if status := models.JobStatus(cmd.String("status")); status != "" {
		switch status {
		case models.JobQueued, models.JobRunning, models.JobComplete, models.JobFailed, models.JobCancelled:
			criteria["status"] = status
		default:
			return fmt.Errorf("%w: --status %q", shared.ErrInvalidFlag, status)
		}
	}

	db, err := r.openDatabase(r.config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := repositories.NewJobRepository(db).List(criteria)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(jobs, cmd.Bool("pretty"))
	}
	r.writePlainHeader("Import jobs")
	return r.writePlain("%s", formatter.JobTable(jobs))
}

// Convert rewrites a reading list in the CSV import format.
func (r *Runner) Convert(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	list, err := formatter.ParseMangaList(path, data)
	if err != nil {
		return err
	}

	out, err := formatter.ExportToCSV(list)
	if err != nil {
		return fmt.Errorf("failed to export CSV: %w", err)
	}

	if dest := cmd.String("output"); dest != "" {
		if err := os.WriteFile(dest, out, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		r.logger.Info("converted list", "titles", len(list.Entries), "format", list.Format, "output", dest)
		return nil
	}

	if _, err := r.output.Write(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
