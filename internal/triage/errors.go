package triage

import "errors"

// ErrInvalidInput is returned for empty or whitespace-only symptom text.
var ErrInvalidInput = errors.New("symptoms text is required for triage")
