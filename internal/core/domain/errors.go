package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNoMesh           = errors.New("no mesh in scene")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// StageError tags a pipeline failure with the stage that produced it so
// callers can attribute failures instead of seeing one flattened message.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage reports which stage an error came from, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
