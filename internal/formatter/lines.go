package formatter

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/tracker"
)

// ProgressLine renders one progress event the way the web client lists them.
func ProgressLine(ev tracker.ProgressEvent) string {
	switch ev.Kind {
	case tracker.KindProgress:
		if ev.Percent != nil {
			return fmt.Sprintf("%s %d%%", ev.Message, *ev.Percent)
		}
		return ev.Message
	case tracker.KindError:
		return "Error: " + ev.Message
	case tracker.KindComplete:
		return ev.Message
	default:
		if ev.Message == "connected" {
			return "Connected to progress stream"
		}
		return ev.Message
	}
}

// QueueLine renders a queue snapshot.
func QueueLine(snap tracker.QueueSnapshot) string {
	if snap.Position == 0 {
		return fmt.Sprintf("Queue: not waiting (%d queued)", snap.Queued)
	}
	return fmt.Sprintf("Queue: position %d of %d", snap.Position, snap.Queued)
}

// JobTable renders the server's job log as aligned columns, newest first as given.
func JobTable(jobs []*models.Job) string {
	if len(jobs) == 0 {
		return "No jobs recorded.\n"
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSESSION\tSTATUS\tTITLES\tFILE\tCREATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			j.Sequence(),
			j.ID(),
			j.Status(),
			j.TitlesDone(),
			j.TitlesTotal(),
			j.Filename(),
			j.CreatedAt().Format(time.DateTime),
			j.ErrorMessage(),
		)
	}
	w.Flush()
	return b.String()
}
