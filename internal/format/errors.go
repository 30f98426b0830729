package format

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

var (
	// ErrFormatDetection is returned when neither the extension nor the
	// content of a file identifies its dialect.
	ErrFormatDetection = errors.New("unknown data format")
	// ErrDataParsing is the root of every malformed-content error.
	ErrDataParsing = errors.New("malformed data")
)

// ParseError describes malformed input. It unwraps to ErrDataParsing.
type ParseError struct {
	Dialect models.Dialect
	// Line is 1-based; zero when the position is unknown.
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", e.Dialect, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Dialect, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return ErrDataParsing
}

func parseErr(d models.Dialect, line int, format string, args ...any) error {
	return &ParseError{Dialect: d, Line: line, Msg: fmt.Sprintf(format, args...)}
}
