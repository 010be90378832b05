package labparse

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("labparse: document not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("labparse: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("labparse: parsing failed")

	// ErrNoTextLayer is returned when a PDF yields no extractable text and
	// no OCR provider is configured to recover it.
	ErrNoTextLayer = errors.New("labparse: document has no text layer")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("labparse: embedding generation failed")

	// ErrSeriesNotFound is returned when a series key matches nothing.
	ErrSeriesNotFound = errors.New("labparse: series not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("labparse: invalid configuration")
)
