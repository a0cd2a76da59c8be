package api

import (
	"errors"
	"fmt"
)

// ImportError is the single domain error kind of the importer. It marks
// failures caused by the problem package or the Polygon service rather than
// by local infrastructure; infrastructure errors are passed through as-is.
type ImportError struct {
	Message string
}

func (e *ImportError) Error() string {
	return e.Message
}

// ImportErrorf creates an ImportError from a format string.
func ImportErrorf(format string, args ...interface{}) error {
	return &ImportError{Message: fmt.Sprintf(format, args...)}
}

// IsImportError reports whether err is or wraps an ImportError.
func IsImportError(err error) bool {
	var importErr *ImportError
	return errors.As(err, &importErr)
}
