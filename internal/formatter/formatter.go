// package formatter parses uploaded reading lists and renders session output as plain text lines
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/desertthunder/mdximport/internal/models"
	"github.com/desertthunder/mdximport/internal/shared"
)

// comickTitleColumn is where a Comick export keeps the title when the header does not name it.
const comickTitleColumn = 1

// ParseMangaList picks a parser from the file extension: .csv for Comick-style exports, .xml for
// MyAnimeList exports.
func ParseMangaList(filename string, data []byte) (*models.MangaList, error) {
	var (
		entries []models.MangaEntry
		format  models.ListFormat
		err     error
	)

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv":
		format = models.FormatCSV
		entries, err = ParseCSV(bytes.NewReader(data))
	case ".xml":
		format = models.FormatMAL
		entries, err = ParseMAL(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: unknown file format %q (must be .csv or .xml)", shared.ErrInvalidInput, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrInvalidInput, filename, err)
	}

	return &models.MangaList{Filename: filename, Format: format, Entries: entries}, nil
}

// ParseCSV reads a header row then one title per record.
//
// The title comes from the column headed "title" (any case, surrounding spaces ignored). Without one,
// single-column files use their only column and wider files use the second column, matching the Comick
// export layout. A "status" column, when present, is carried along. Rows without a title are skipped.
func ParseCSV(r io.Reader) ([]models.MangaEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	titleIdx, statusIdx := -1, -1
	for i, h := range header {
		switch normalizeHeader(h) {
		case "title":
			titleIdx = i
		case "status", "my_status":
			statusIdx = i
		}
	}
	if titleIdx < 0 {
		titleIdx = 0
		if len(header) > 1 {
			titleIdx = comickTitleColumn
		}
	}

	var entries []models.MangaEntry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		title := field(record, titleIdx)
		if title == "" {
			continue
		}
		entries = append(entries, models.MangaEntry{Title: title, Status: field(record, statusIdx)})
	}

	return entries, nil
}

type malExport struct {
	Entries []struct {
		Title    string `xml:"manga_title"`
		MyStatus string `xml:"my_status"`
	} `xml:"manga"`
}

// ParseMAL reads a MyAnimeList manga export.
func ParseMAL(r io.Reader) ([]models.MangaEntry, error) {
	var export malExport
	if err := xml.NewDecoder(r).Decode(&export); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode MAL export: %w", err)
	}

	entries := make([]models.MangaEntry, 0, len(export.Entries))
	for _, m := range export.Entries {
		title := strings.TrimSpace(m.Title)
		if title == "" {
			continue
		}
		entries = append(entries, models.MangaEntry{Title: title, Status: strings.TrimSpace(m.MyStatus)})
	}
	return entries, nil
}

// ExportToCSV writes a list back out in the title,status layout ParseCSV reads.
func ExportToCSV(list *models.MangaList) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"title", "status"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, e := range list.Entries {
		if err := writer.Write([]string{e.Title, e.Status}); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.NewReplacer(" ", "_", "-", "_", `"`, "").Replace(h)
	return h
}
