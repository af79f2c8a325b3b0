package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/shared"
)

const jobColumns = `
	id, sequence, filename, username, status, titles_total, titles_done,
	error_message, created_at, updated_at, finished_at
`

// JobRepository implements [models.Repository] for [models.Job] persistence.
type JobRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.Job] = (*JobRepository)(nil)

// NewJobRepository creates a new [JobRepository] with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a job, assigning it the next sequence number. The job keeps the id it was created with
// since that id is the client's session id; an empty id gets a generated one.
func (r *JobRepository) Create(job *models.Job) error {
	if job.ID() == "" {
		job.SetID(shared.GenerateID())
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}
	job.SetSequence(sequence)

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query,
		job.ID(),
		sequence,
		job.Filename(),
		job.Username(),
		string(job.Status()),
		job.TitlesTotal(),
		job.TitlesDone(),
		nullString(job.ErrorMessage()),
		job.CreatedAt(),
		job.UpdatedAt(),
		job.FinishedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// Get retrieves a job by ID
func (r *JobRepository) Get(id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return job, err
}

// Update writes the job's mutable fields: status, counters, error and finish time.
func (r *JobRepository) Update(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	job.SetUpdatedAt(now)

	query := `
		UPDATE jobs
		SET status = ?, titles_total = ?, titles_done = ?, error_message = ?,
			finished_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		string(job.Status()),
		job.TitlesTotal(),
		job.TitlesDone(),
		nullString(job.ErrorMessage()),
		job.FinishedAt(),
		now,
		job.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return requireRow(result, job.ID())
}

// Delete removes a job by ID
func (r *JobRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireRow(result, id)
}

// List retrieves jobs newest first. Supported criteria: "status" (string or [models.JobStatus]),
// "username" (string) and "limit" (int).
func (r *JobRepository) List(criteria map[string]any) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	args := []any{}

	switch status := criteria["status"].(type) {
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	case models.JobStatus:
		query += " AND status = ?"
		args = append(args, string(status))
	}

	if username, ok := criteria["username"].(string); ok && username != "" {
		query += " AND username = ?"
		args = append(args, username)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return jobs, nil
}

// Prune deletes finished jobs whose finish time is before cutoff and reports how many went.
func (r *JobRepository) Prune(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return result.RowsAffected()
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		id           string
		sequence     int
		filename     string
		username     string
		status       string
		titlesTotal  int
		titlesDone   int
		errorMessage sql.NullString
		createdAt    time.Time
		updatedAt    time.Time
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &filename, &username, &status, &titlesTotal, &titlesDone,
		&errorMessage, &createdAt, &updatedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job := models.NewJob(id, filename, username, titlesTotal)
	job.SetSequence(sequence)
	job.SetStatus(models.JobStatus(status))
	job.SetTitlesDone(titlesDone)
	job.SetCreatedAt(createdAt)
	job.SetUpdatedAt(updatedAt)
	if errorMessage.Valid {
		job.SetErrorMessage(errorMessage.String)
	}
	if finishedAt.Valid {
		job.SetFinishedAt(&finishedAt.Time)
	}

	return job, nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return nil
}
