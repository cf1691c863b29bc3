package core

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"medevent/internal/types"
)

// Validator wraps go-playground/validator for request payloads.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator using struct json tags for field names in
// error details.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{validate: v}
}

// Struct validates a request payload, collapsing all violations into one
// 400 AppError with a per-field details map.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"request validation failed", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fmt.Sprintf("failed on the %q rule", fe.Tag())
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		"request validation failed", err, details)
}
