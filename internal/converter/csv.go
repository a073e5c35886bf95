package converter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// CSV renders a CSV file as a Markdown table. The first record is the
// header row.
type CSV struct{}

// Convert implements Converter.
func (CSV) Convert(ctx context.Context, path string) (bool, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, "", fmt.Errorf("%w: %s", rag.ErrNotFound, path)
		}
		return false, "", fmt.Errorf("%w: opening %s: %v", rag.ErrIO, path, err)
	}
	defer f.Close()

	md, err := csvToMarkdown(f)
	if err != nil {
		return false, "", fmt.Errorf("%w: %s: %v", ErrConversionFailed, path, err)
	}
	return true, md, nil
}

func csvToMarkdown(r io.Reader) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	width := 0
	for _, rec := range records {
		width = max(width, len(rec))
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = escapeCell(cells[i])
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(records[0])
	b.WriteString("|")
	for i := 0; i < width; i++ {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, rec := range records[1:] {
		writeRow(rec)
	}
	return b.String(), nil
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
