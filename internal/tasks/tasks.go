// package tasks implements the import job run by the server for each queued session.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/services"
	"github.com/desertthunder/mdximport/internal/shared"
	"golang.org/x/time/rate"
)

// Follower performs the account-side work of an import.
type Follower interface {
	// Login authenticates the account the titles will be followed on.
	Login(ctx context.Context, creds services.Credentials) error

	// Follow adds one title to the account's follows.
	Follow(ctx context.Context, title string) error
}

// TitleResult is the outcome of following one title.
type TitleResult struct {
	Title string
	Error error
}

// ImportResult summarizes a finished run.
type ImportResult struct {
	Total    int
	Followed int
	Failed   []TitleResult
}

// ImportEngine follows every title of a reading list for one account.
type ImportEngine struct {
	follower Follower
	limiter  *rate.Limiter
}

// NewImportEngine creates an engine that starts at most one follow per stepDelay. A non-positive
// delay disables pacing.
func NewImportEngine(f Follower, stepDelay time.Duration) *ImportEngine {
	limit := rate.Inf
	if stepDelay > 0 {
		limit = rate.Every(stepDelay)
	}
	return &ImportEngine{follower: f, limiter: rate.NewLimiter(limit, 1)}
}

// Run logs in and follows each title in order.
//
// A login failure or a cancelled context ends the run with an error. Individual follow failures are
// collected in the result.
func (e *ImportEngine) Run(ctx context.Context, progress chan<- ProgressUpdate, creds services.Credentials, list *models.MangaList) (*ImportResult, error) {
	if e.follower == nil {
		return nil, fmt.Errorf("%w: follower not initialized", shared.ErrServiceUnavailable)
	}
	if list == nil {
		return nil, fmt.Errorf("%w: no reading list", shared.ErrMissingArgument)
	}

	titles := list.Titles()
	result := &ImportResult{Total: len(titles)}

	sendProgress(ctx, progress, parsedListUpdate(list))
	sendProgress(ctx, progress, loginUpdate(len(titles)))

	if err := e.follower.Login(ctx, creds); err != nil {
		return result, fmt.Errorf("%w: login failed: %v", shared.ErrAPIRequest, err)
	}

	for i, title := range titles {
		if err := e.limiter.Wait(ctx); err != nil {
			return result, err
		}

		err := e.follower.Follow(ctx, title)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err != nil {
			result.Failed = append(result.Failed, TitleResult{Title: title, Error: err})
			sendProgress(ctx, progress, followFailedUpdate(i+1, len(titles), title, err))
			continue
		}

		result.Followed++
		sendProgress(ctx, progress, followedUpdate(i+1, len(titles), title))
	}

	return result, nil
}

// sendProgress hands an update to the channel, giving up only when ctx ends.
func sendProgress(ctx context.Context, progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	case <-ctx.Done():
	}
}

// SimulatedFollower accepts any login and follow after an optional delay. The development server
// uses it in place of a MangaDex client.
type SimulatedFollower struct {
	Delay time.Duration
}

func (s SimulatedFollower) Login(ctx context.Context, creds services.Credentials) error {
	if missing := creds.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %v", shared.ErrMissingCredentials, missing)
	}
	return s.wait(ctx)
}

func (s SimulatedFollower) Follow(ctx context.Context, title string) error {
	if title == "" {
		return fmt.Errorf("%w: empty title", shared.ErrInvalidInput)
	}
	return s.wait(ctx)
}

func (s SimulatedFollower) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
