package models

// ListFormat is the kind of file a reading list was uploaded as.
type ListFormat string

const (
	FormatCSV ListFormat = "csv"
	FormatMAL ListFormat = "mal_xml"
)

// MangaEntry is one title from a reading list.
type MangaEntry struct {
	Title  string `json:"title"`
	Status string `json:"status,omitempty"` // reading status as exported, e.g. "Reading"
}

// MangaList is a parsed upload.
type MangaList struct {
	Filename string       `json:"filename"`
	Format   ListFormat   `json:"format"`
	Entries  []MangaEntry `json:"entries"`
}

// Titles returns the entry titles in upload order.
func (l *MangaList) Titles() []string {
	titles := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		titles = append(titles, e.Title)
	}
	return titles
}
