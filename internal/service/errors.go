package service

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch is returned when a request carries no texts.
var ErrEmptyBatch = errors.New("texts list cannot be empty")

// BatchSizeError is returned when a request carries more texts than allowed.
type BatchSizeError struct {
	Max int
	Got int
}

func (e *BatchSizeError) Error() string {
	return fmt.Sprintf("Batch size too large. Max: %d, Got: %d", e.Max, e.Got)
}

// IsClientError reports whether err was caused by the request itself rather
// than by the model.
func IsClientError(err error) bool {
	var sizeErr *BatchSizeError
	return errors.Is(err, ErrEmptyBatch) || errors.As(err, &sizeErr)
}
