package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput means the uploaded file was empty or unreadable.
	ErrEmptyInput = errors.New("file is empty or could not be read")
	// ErrNoRecordsFound means the file parsed but held no row with a title.
	ErrNoRecordsFound = errors.New("no articles found in file")
)

// ClassificationError wraps any failure of the external classifier: transport,
// service error or a response that is not a JSON array of strings.
type ClassificationError struct {
	Provider string
	Err      error
}

func (e *ClassificationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("classification failed: %v", e.Err)
	}
	return fmt.Sprintf("classification failed (%s): %v", e.Provider, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

func NewClassificationError(provider string, err error) *ClassificationError {
	return &ClassificationError{Provider: provider, Err: err}
}

// UserMessage turns an error from the pipeline into the text shown to the user.
// Classification failures are surfaced verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "File is empty or could not be read."
	case errors.Is(err, ErrNoRecordsFound):
		return "Could not find any articles in the file. Please ensure the CSV format is 'Title,Author,日期' and the file is not empty."
	}
	return err.Error()
}
