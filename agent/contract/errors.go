package contract

import "errors"

var (
	ErrModelInvoke        = errors.New("model invoke failed")
	ErrSchemaViolation    = errors.New("model response violates schema")
	ErrPromptMissing      = errors.New("required prompt is missing")
	ErrValidation         = errors.New("validation failed")
	ErrLoopBudgetExceeded = errors.New("action loop budget exceeded")
	ErrAmbiguousReference = errors.New("booking reference is ambiguous")
)
