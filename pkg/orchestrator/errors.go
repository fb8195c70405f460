package orchestrator

import "fmt"

// ValidationError rejects a malformed request before any state is
// touched. The gateway maps it to a 400 response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ConfigurationError means a model cannot be served by the running
// configuration: no family claims it and no default is set, or the
// claimed family has no endpoint. The gateway maps it to a 500
// response.
type ConfigurationError struct {
	Model string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("model %q cannot be served: %v", e.Model, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
