package pdf

import "errors"

var (
	// ErrInvalidPDF is returned for files that do not parse as PDF.
	ErrInvalidPDF = errors.New("invalid PDF document")

	// ErrEncrypted rejects password-protected documents.
	ErrEncrypted = errors.New("encrypted PDF not supported")

	// ErrTooLarge rejects documents over the configured size limit.
	ErrTooLarge = errors.New("PDF exceeds size limit")

	// ErrPageOutOfRange is returned when a requested page does not exist.
	ErrPageOutOfRange = errors.New("page out of range")

	// ErrExtractionFailed wraps extraction faults on an otherwise valid
	// document.
	ErrExtractionFailed = errors.New("content extraction failed")
)
