package provision

import (
	"errors"
	"fmt"
)

// Step identifies one resource creation step of Provision
type Step string

const (
	StepRegistry       Step = "container_registry"
	StepLogDestination Step = "log_destination"
	StepBuildProject   Step = "build_project"
	StepEventRule      Step = "event_rule"
)

var (
	ErrAlreadyProvisioned = errors.New("project resources are already provisioned")
	ErrNotProvisioned     = errors.New("project has no provisioned resources")
)

// ProvisioningError carries the original cause of a failed Provision after rollback ran
type ProvisioningError struct {
	Step Step
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at step %s: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// TeardownError collects every resource deletion that failed
type TeardownError struct {
	Errs []error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown incomplete: %v", errors.Join(e.Errs...))
}

func (e *TeardownError) Unwrap() []error {
	return e.Errs
}
