package ui

import (
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/mdximport/internal/formatter"
	"github.com/desertthunder/mdximport/internal/tracker"
)

var _ list.Item = eventItem{}

// eventItem wraps [tracker.ProgressEvent] to implement [list.Item].
type eventItem struct {
	event tracker.ProgressEvent
	at    time.Time
}

func (i eventItem) FilterValue() string { return i.event.Message }
func (i eventItem) Title() string       { return formatter.ProgressLine(i.event) }
func (i eventItem) Description() string {
	return i.at.Format(time.TimeOnly) + " • " + i.event.Kind.String()
}

func newEventList() list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Events"
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.DisableQuitKeybindings()
	return l
}
