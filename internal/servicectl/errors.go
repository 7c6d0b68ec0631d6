package servicectl

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code classifies lifecycle and bridge failures for the UI layer.
type Code string

const (
	// CodeArtifactNotFound means neither the bundled artifact nor the
	// interpreter fallback prerequisites exist. Fatal for the cycle.
	CodeArtifactNotFound Code = "artifact_not_found"
	// CodeSpawnFailure means process creation itself failed.
	CodeSpawnFailure Code = "spawn_failure"
	// CodeReadinessTimeout means the engine started but never became
	// reachable within the probe bounds. Transient; a retry may succeed.
	CodeReadinessTimeout Code = "readiness_timeout"
	// CodeUnexpectedExit means a previously ready engine process terminated.
	CodeUnexpectedExit Code = "unexpected_exit"
	// CodeRequestFailure marks an individual bridge call failure after the
	// connection was established. Never changes connection state.
	CodeRequestFailure Code = "request_failure"
	// CodeNotReady marks a bridge call attempted before the connection was
	// established. A caller error, not a retried condition.
	CodeNotReady Code = "not_ready"
)

// LifecycleError is a structured failure carrying a stable code for the UI
// recovery surface, a user-facing message and the wrapped cause.
type LifecycleError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *LifecycleError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// NewError creates a LifecycleError.
func NewError(code Code, message string, err error) *LifecycleError {
	return &LifecycleError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the failure code from err, or empty when err is not a
// LifecycleError.
func CodeOf(err error) Code {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
