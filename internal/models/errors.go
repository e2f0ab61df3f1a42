package models

import "errors"

var (
	ErrExtraction        = errors.New("extraction error")
	ErrOCRUnavailable    = errors.New("ocr unavailable")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrChunking          = errors.New("chunking error")
	ErrEmbedding         = errors.New("embedding error")
	ErrIndexBuild        = errors.New("index build error")
	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexCorrupt      = errors.New("index corrupt")
	ErrAnswer            = errors.New("answer error")
	ErrConfiguration     = errors.New("configuration error")
	ErrInvalidInput      = errors.New("invalid input")
)

// errorKinds is ordered: the first sentinel found in the chain wins. A
// failed question reports answer_error unless the index itself is missing or
// unusable.
var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrOCRUnavailable, "ocr_unavailable"},
	{ErrIndexNotFound, "index_not_found"},
	{ErrIndexCorrupt, "index_corrupt"},
	{ErrAnswer, "answer_error"},
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrExtraction, "extraction_error"},
	{ErrChunking, "chunking_error"},
	{ErrEmbedding, "embedding_error"},
	{ErrIndexBuild, "index_build_error"},
	{ErrConfiguration, "configuration_error"},
	{ErrInvalidInput, "invalid_input"},
}

// ErrorKind maps err to a stable kind string used in responses and logs.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal_error"
}
