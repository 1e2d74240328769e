package storage

import "errors"

// ErrNilTranscript is returned by Put for a nil transcript.
var ErrNilTranscript = errors.New("cannot store nil transcript")

// NotFoundError is returned when a transcript doesn't exist in the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "transcript not found"
	}

	return "transcript not found: " + e.ID
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
