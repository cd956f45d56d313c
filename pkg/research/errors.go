package research

import (
	"context"
	"errors"
	"fmt"
)

// StageError tags a failure with the pipeline stage it escaped from.
type StageError struct {
	Step Step
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err ends a run by cancellation rather than
// failure. Deadlines are failures.
func IsCanceled(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return ctx != nil && errors.Is(ctx.Err(), context.Canceled)
}

func stageErr(step Step, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Step: step, Err: err}
}
