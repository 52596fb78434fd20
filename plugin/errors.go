package plugin

import "errors"

var (
	// ErrPermissionRequired rejects a call whose consents were not all granted.
	ErrPermissionRequired = errors.New("Permission is required")
	// ErrMissingInput matches every validation failure.
	ErrMissingInput = errors.New("missing input")
	// ErrUnknownMethod rejects a call naming no known operation.
	ErrUnknownMethod = errors.New("method not implemented")

	// ErrSSIDMandatory and ErrCredentialsMandatory carry the fixed messages
	// reported to the host.
	ErrSSIDMandatory        error = &inputError{msg: "SSID is mandatory"}
	ErrCredentialsMandatory error = &inputError{msg: "SSID and password are mandatory"}
)

type inputError struct {
	msg string
}

func (e *inputError) Error() string {
	return e.msg
}

func (e *inputError) Is(target error) bool {
	return target == ErrMissingInput
}
