package booking

import "errors"

// ErrSessionExpired is returned when the vendor redirects an automation step
// to its login surface. The stored credential can no longer open a session,
// so no further dates are attempted until it is refreshed.
var ErrSessionExpired = errors.New("booking: session expired")

// ValidationError captures field level configuration issues that callers can
// surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
