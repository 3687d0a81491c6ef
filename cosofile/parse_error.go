package cosofile

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSong is reported for header and table validation failures.
	ErrMalformedSong = errors.New("malformed song")

	// ErrTruncatedProgram is reported when a voice program has no end op-code
	// inside of its table region.
	ErrTruncatedProgram = errors.New("truncated program")

	// ErrBadReference is reported for op-codes that refer to a
	// nonexistent instrument or sample.
	ErrBadReference = errors.New("bad reference")
)

type ParseError struct {
	// Kind is one of the Err* sentinels above.
	Kind error

	Message string

	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %s (offset=%d)", e.Kind, e.Message, e.Offset)
}

func (e *ParseError) Unwrap() error { return e.Kind }
