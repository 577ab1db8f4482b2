package dispatch

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("dispatch: no store configured")
	ErrStoreClosed = errors.New("dispatch: store closed")

	// Not found errors.
	ErrJobNotFound   = errors.New("dispatch: job not found")
	ErrMediaNotFound = errors.New("dispatch: media attachment not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("dispatch: job already exists")

	// ErrStaleState means a conditional commit found the record changed
	// since the caller last read it. Refresh and decide whether to retry;
	// the library never retries on the caller's behalf.
	ErrStaleState = errors.New("dispatch: stale state")

	// ErrInvalidTransition means the requested lifecycle transition is not
	// legal from the job's current status.
	ErrInvalidTransition = errors.New("dispatch: invalid state transition")

	// ErrInvalidBucket means a listing named an unknown bucket.
	ErrInvalidBucket = errors.New("dispatch: invalid bucket")

	// Authorization errors.
	ErrNotHolder = errors.New("dispatch: contractor does not hold this job")
	ErrNotOwner  = errors.New("dispatch: actor does not own this job")

	// ErrInvalidProgress means a progress append was malformed: percent
	// regression, empty or oversized message, or unknown media reference.
	ErrInvalidProgress = errors.New("dispatch: invalid progress entry")

	// ErrUnavailable wraps transport failures from store or feed
	// collaborators. The condition is recoverable; cached state such as
	// categorizer buckets must be left untouched when it surfaces.
	ErrUnavailable = errors.New("dispatch: backend unavailable")
)

// ErrAlreadyAssigned is the stale-state flavor a losing acceptor receives:
// another contractor committed first. It wraps ErrStaleState so generic
// conflict handling still matches, while UX code can surface it distinctly.
// The caller must not retry — the job belongs to the winner and should drop
// off the loser's available list on the next categorization pass.
var ErrAlreadyAssigned = fmt.Errorf("dispatch: job already assigned: %w", ErrStaleState)

// Unavailable wraps a transport error from a store or feed collaborator so
// that errors.Is(err, ErrUnavailable) holds for callers.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
