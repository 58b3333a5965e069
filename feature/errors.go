package feature

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when a payload is shorter than a decoder needs.
var ErrInsufficientData = errors.New("insufficient data")

// DataError reports a short buffer for a specific feature.
type DataError struct {
	Feature string
	Need    int
	Have    int
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: %v: need %d bytes, have %d", e.Feature, ErrInsufficientData, e.Need, e.Have)
}

// Is makes errors.Is(err, ErrInsufficientData) work for DataError.
func (e *DataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// require checks that data[offset:] holds at least n bytes.
func require(name string, data []byte, offset, n int) error {
	have := len(data) - offset
	if offset < 0 || offset > len(data) {
		have = 0
	}
	if offset < 0 || have < n {
		return &DataError{Feature: name, Need: n, Have: have}
	}
	return nil
}
