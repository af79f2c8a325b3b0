package tasks

import (
	"fmt"

	"github.com/desertthunder/mdximport/internal/models"
)

// ProgressUpdate represents a progress event during an import.
//
// The server turns each update into one "progress" event on the session's stream.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Percent is Step over Total as 0-100, or -1 when the phase has no steps.
func (u ProgressUpdate) Percent() int {
	if u.Total <= 0 {
		return -1
	}
	return min(100, u.Step*100/u.Total)
}

// Operation phase enumeration
type Phase int

const (
	ParseList Phase = iota
	Login
	FollowTitles
)

func (p Phase) String() string {
	switch p {
	case ParseList:
		return "parse_list"
	case Login:
		return "login"
	case FollowTitles:
		return "follow_titles"
	default:
		return ""
	}
}

func parsedListUpdate(list *models.MangaList) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ParseList,
		Message: fmt.Sprintf("Parsed %s: %d titles", list.Filename, len(list.Entries)),
		Data:    list,
	}
}

func loginUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Login,
		Total:   total,
		Message: "Logging in to MangaDex...",
	}
}

func followedUpdate(step, total int, title string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FollowTitles,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Followed %s", step, total, title),
	}
}

func followFailedUpdate(step, total int, title string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FollowTitles,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Failed %s: %v", step, total, title, err),
	}
}
