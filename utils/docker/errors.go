package docker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/docker/errdefs"
)

// =============================================================================
// Engine Error
// =============================================================================

// EngineError tags a failed Engine call with the raw daemon message.
type EngineError struct {
	Op      string // Operation that failed
	ID      string // Container, image or volume id if applicable
	Message string // Raw Engine message
	Err     error
}

func (e *EngineError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the Engine answered 404 for this call.
func (e *EngineError) NotFound() bool {
	return errdefs.IsNotFound(e.Err) || strings.Contains(strings.ToLower(e.Message), "no such")
}

// NewEngineError creates a new EngineError.
func NewEngineError(op, id string, err error) *EngineError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &EngineError{Op: op, ID: id, Message: msg, Err: err}
}

func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewEngineError(op, id, err)
}

// =============================================================================
// Translation
// =============================================================================

// Translation is the operator-facing reading of an Engine failure.
type Translation struct {
	Kind       string `json:"kind"`
	Error      string `json:"error"`
	Details    string `json:"details"`
	Suggestion string `json:"suggestion"`
}

// translationRule is evaluated in table order; the first match wins.
type translationRule struct {
	name       string
	match      func(msg string) bool
	message    func(msg string) string
	suggestion string
}

var portPattern = regexp.MustCompile(`:(\d+)`)

func containsAny(subs ...string) func(string) bool {
	return func(msg string) bool {
		lower := strings.ToLower(msg)
		for _, s := range subs {
			if strings.Contains(lower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}

func fixed(text string) func(string) string {
	return func(string) string { return text }
}

var translationRules = []translationRule{
	{
		name:  "port_in_use",
		match: containsAny("port is already allocated", "address already in use"),
		message: func(msg string) string {
			if m := portPattern.FindStringSubmatch(msg); m != nil {
				return fmt.Sprintf("Port %s is already in use by another process or container", m[1])
			}
			return "The requested port is already in use by another process or container"
		},
		suggestion: "Stop the service using the port or change the container's port mapping.",
	},
	{
		name:       "image_missing",
		match:      containsAny("no such image"),
		message:    fixed("The container image was not found locally"),
		suggestion: "Pull the image again or check the image name and tag.",
	},
	{
		name:       "network_missing",
		match:      containsAny("network not found"),
		message:    fixed("A network required by the container does not exist"),
		suggestion: "Recreate the network or update the container's network settings.",
	},
	{
		name:       "out_of_memory",
		match:      containsAny("out of memory", "cannot allocate memory"),
		message:    fixed("The host does not have enough memory to run the container"),
		suggestion: "Free memory on the host or lower the container's memory limit.",
	},
	{
		name:       "permission_denied",
		match:      containsAny("permission denied"),
		message:    fixed("Permission denied while accessing a container resource"),
		suggestion: "Check file ownership and permissions of mounted paths and the Docker socket.",
	},
	{
		name:       "bad_mount",
		match:      containsAny("not a directory", "mount"),
		message:    fixed("A volume or bind mount is misconfigured"),
		suggestion: "Verify that mounted host paths exist and have the expected type.",
	},
	{
		name:       "container_missing",
		match:      containsAny("container not found", "no such container"),
		message:    fixed("The container no longer exists"),
		suggestion: "Refresh the container list; it may have been removed.",
	},
	{
		name:       "already_running",
		match:      containsAny("already started", "already running"),
		message:    fixed("The container is already running"),
		suggestion: "No action needed. Use restart to apply changes.",
	},
	{
		name:       "not_running",
		match:      containsAny("not running"),
		message:    fixed("The container is not running"),
		suggestion: "Start the container before running this action.",
	},
	{
		name:       "already_stopped",
		match:      containsAny("already stopped"),
		message:    fixed("The container is already stopped"),
		suggestion: "No action needed.",
	},
	{
		name:       "driver_unavailable",
		match:      containsAny("driver not supported", "driver not found"),
		message:    fixed("The requested storage or network driver is not available"),
		suggestion: "Install the driver plugin or switch to a supported driver.",
	},
}

// Translate maps a raw Engine failure to an operator-facing message and
// suggestion. Unknown failures fall back to a generic reading that still
// carries the raw details.
func Translate(err error) Translation {
	if err == nil {
		return Translation{}
	}

	raw := err.Error()
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.Message != "" {
		raw = engineErr.Message
	}

	for _, rule := range translationRules {
		if rule.match(raw) {
			return Translation{
				Kind:       rule.name,
				Error:      rule.message(raw),
				Details:    raw,
				Suggestion: rule.suggestion,
			}
		}
	}

	return Translation{
		Kind:       "unknown",
		Error:      "The Docker Engine rejected the operation",
		Details:    raw,
		Suggestion: "Check the container logs and the Docker daemon logs for more details.",
	}
}
