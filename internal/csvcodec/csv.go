// Package csvcodec reads uploaded article lists and writes the filtered
// results back out for download.
//
// Records are line-delimited: a field may be quoted and may contain commas
// inside the quotes, but embedded newlines are not supported.
package csvcodec

import (
	"bytes"
	"io"
	"strings"

	"shenbaosift/internal/domain"
)

// BOM is written ahead of every export so spreadsheet tools pick UTF-8.
const BOM = "\ufeff"

// Header is the fixed column header of exported files. The third column
// keeps the Chinese date label the source archives use.
var Header = []string{"Title", "Author", "日期"}

var headerMarkers = []string{"title", "author", "日期"}

// Parse turns uploaded text into records. It returns domain.ErrEmptyInput
// when there is nothing but whitespace and domain.ErrNoRecordsFound when no
// line yields a non-blank title.
func Parse(text string) ([]domain.Record, error) {
	text = strings.TrimPrefix(text, BOM)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyInput
	}

	lines := strings.Split(text, "\n")
	if isHeader(lines[0]) {
		lines = lines[1:]
	}

	var records []domain.Record
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		rec := recordFromFields(splitFields(line))
		if strings.TrimSpace(rec.Title) == "" {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, domain.ErrNoRecordsFound
	}
	return records, nil
}

// Serialize renders records as a BOM-prefixed CSV with the fixed header.
// Every field is quoted and inner quotes are doubled.
func Serialize(records []domain.Record) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, records)
	return buf.Bytes()
}

func Write(w io.Writer, records []domain.Record) error {
	var sb strings.Builder
	sb.WriteString(BOM)
	sb.WriteString(strings.Join(Header, ","))
	sb.WriteByte('\n')
	for _, r := range records {
		sb.WriteString(quote(r.Title))
		sb.WriteByte(',')
		sb.WriteString(quote(r.Author))
		sb.WriteByte(',')
		sb.WriteString(quote(r.Date))
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func isHeader(line string) bool {
	line = strings.ToLower(line)
	for _, marker := range headerMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func recordFromFields(fields []string) domain.Record {
	return domain.Record{
		Title:  fieldAt(fields, 0),
		Author: fieldAt(fields, 1),
		Date:   fieldAt(fields, 2),
	}
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// splitFields splits a single line on commas. A field that opens with a
// double quote runs to the matching closing quote and "" inside it reads as
// one quote; anything else is taken literally.
func splitFields(line string) []string {
	var (
		fields   []string
		field    strings.Builder
		inQuotes bool
		quoted   bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuotes:
			if c != '"' {
				field.WriteByte(c)
				continue
			}
			if i+1 < len(line) && line[i+1] == '"' {
				field.WriteByte('"')
				i++
				continue
			}
			inQuotes = false
		case c == '"' && !quoted && field.Len() == 0:
			inQuotes = true
			quoted = true
		case c == ',':
			fields = append(fields, field.String())
			field.Reset()
			quoted = false
		default:
			field.WriteByte(c)
		}
	}
	return append(fields, field.String())
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
