package access

import "errors"

var (
	ErrNotFound     = errors.New("access: not found")
	ErrInvalidInput = errors.New("access: invalid input")
	ErrConflict     = errors.New("access: resource conflict")
	ErrAccessDenied = errors.New("access: denied")
	ErrLastTenant   = errors.New("access: last tenant membership")
	ErrInvalidState = errors.New("access: invalid state")
)
