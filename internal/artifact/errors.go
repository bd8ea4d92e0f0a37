package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrArtifactMissing is matched by every MissingError.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrArtifactMalformed reports an artifact that exists but cannot be served.
	ErrArtifactMalformed = errors.New("artifact malformed")
)

// MissingError names a required artifact file that is absent.
type MissingError struct {
	Bundle string
	Path   string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s artifact not found at %s", e.Bundle, e.Path)
}

// Is reports ErrArtifactMissing as a match.
func (e *MissingError) Is(target error) bool {
	return target == ErrArtifactMissing
}

func malformed(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrArtifactMalformed, path, err)
}
