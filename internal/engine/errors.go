package engine

import "fmt"

// NavigationError reports that the page could not be loaded, after both the
// full-load attempt and the degraded fallback. It aborts the run.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// DetectionError reports that in-page evaluation failed during tag or
// data-layer inspection. It aborts the run.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detect tags: %v", e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }
