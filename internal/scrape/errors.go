package scrape

import "fmt"

// ProducerError represents an unrecoverable extraction failure for one area.
// It is isolated to that area's sub-job and never aborts sibling areas.
type ProducerError struct {
	Area    string
	Message string
	Cause   error
}

func (e *ProducerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("producer error (%s): %s: %v", e.Area, e.Message, e.Cause)
	}
	return fmt.Sprintf("producer error (%s): %s", e.Area, e.Message)
}

func (e *ProducerError) Unwrap() error {
	return e.Cause
}
