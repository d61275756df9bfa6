package csvcodec

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"shenbaosift/internal/domain"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// Decode parses an uploaded file, picking the reader by extension.
// CSV bytes that are not valid UTF-8 are read as GB18030, the encoding
// older Chinese spreadsheet exports default to.
func Decode(name string, data []byte) ([]domain.Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.ErrEmptyInput
	}
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ParseXLSX(bytes.NewReader(data))
	}
	if !utf8.Valid(data) {
		decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data)
		if err != nil || !utf8.Valid(decoded) {
			return nil, domain.ErrEmptyInput
		}
		data = decoded
	}
	return Parse(string(data))
}
