package app

import "fmt"

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ActionError is a user-facing failure from a board or AI action. The HTTP
// layer reports it inside a success envelope rather than as an HTTP error,
// so the client can surface the message verbatim.
type ActionError struct {
	Message string
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func actionError(message string) *ActionError {
	return &ActionError{Message: message}
}
