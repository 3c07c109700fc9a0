// Package jobs holds the queue-side contracts: how jobs are submitted,
// stored, pulled and finished.
package jobs

import "errors"

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidInput    = errors.New("invalid job input")
	ErrHistoryDisabled = errors.New("job history is not configured")
	ErrNotObjectOutput = errors.New("job output is not an object store path")
)
