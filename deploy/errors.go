package deploy

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrCorrelationMiss is returned when an event matches no active deployment
	ErrCorrelationMiss = errors.New("event matches no active deployment")
	// ErrInvalidTransition is returned when an explicit action is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid deployment transition")
)

// TransitionError is returned when a transition could not be persisted
type TransitionError struct {
	DeploymentID uuid.UUID
	Event        string
	Err          error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("deployment %s: %s not persisted: %v", e.DeploymentID, e.Event, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
