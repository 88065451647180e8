package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the relay. Callers match them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrAdmission  = errors.New("rate limit exceeded")
	ErrStorage    = errors.New("storage failure")

	ErrMissingKey = fmt.Errorf("%w: missing api key", ErrAuth)
	ErrInvalidKey = fmt.Errorf("%w: invalid api key", ErrAuth)
)
