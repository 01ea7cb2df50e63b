package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"viberesume/internal/types"
)

// Validator wraps go-playground/validator with the domain rules used by
// request bodies.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

const slugMessage = "Slug can only contain letters, numbers, hyphens, and underscores"

// NewValidator creates a Validator and registers the custom tags:
//
//	slug - letters, digits, hyphens and underscores, at most 64 characters
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return types.IsValidSlug(fl.Field().String())
	}); err != nil && logger != nil {
		logger.Error("failed to register slug validation", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct checks s against its `validate` tags. The first failing
// field decides the error code; all failing fields are listed in details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "invalid request body", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}

	first := verrs[0]
	if first.Tag() == "slug" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSlug, slugMessage, err, map[string]any{"fields": fields})
	}

	msg := "invalid value for " + first.Field()
	if first.Tag() == "required" {
		msg = first.Field() + " is required"
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, msg, err, map[string]any{"fields": fields})
}
