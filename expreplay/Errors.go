package expreplay

import "errors"

// MemoryError implements errors unique to an experience memory.
type MemoryError struct {
	Op  string
	Err error
}

// Error satisifes the error interface
func (e *MemoryError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errInsufficientData error = errors.New("memory holds no samples")

var errShapeMismatch error = errors.New("transition shape mismatch")

// IsInsufficientData returns whether or not an error reports that
// there are too few samples in the memory to draw a batch from it.
func IsInsufficientData(err error) bool {
	if memErr, ok := err.(*MemoryError); ok {
		err = memErr.Err
	}
	return err == errInsufficientData
}

// IsShapeMismatch returns whether or not an error reports that a
// transition's observation or action dimensions do not match the
// dimensions the memory was configured with.
func IsShapeMismatch(err error) bool {
	if memErr, ok := err.(*MemoryError); ok {
		err = memErr.Err
	}
	return err == errShapeMismatch
}
