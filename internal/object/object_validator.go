package object

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// Validator: validation and sanitization of graphic objects
type Validator struct {
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(kindRules, GraphicObject{})

	return &Validator{
		validate: v,
		// removes all HTML/scripts
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// ValidateAndSanitize: validates the snapshot against its kind's schema and
// returns a sanitized copy. The input is not modified.
func (v *Validator) ValidateAndSanitize(o *GraphicObject) (*GraphicObject, error) {
	if o == nil {
		return nil, errors.New("validation failed: missing object")
	}

	if err := v.validate.Struct(o); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return nil, formatValidationErrors(validationErrors)
		}
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	clean := o.Clone()
	clean.ID = v.SanitizeString(clean.ID)
	clean.Author = v.SanitizeString(clean.Author)
	clean.Geometry.Text = v.SanitizeString(clean.Geometry.Text)
	clean.Geometry.Src = v.SanitizeString(clean.Geometry.Src)
	clean.Style.Fill = v.SanitizeString(clean.Style.Fill)
	clean.Style.Stroke = v.SanitizeString(clean.Style.Stroke)
	clean.Style.FontFamily = v.SanitizeString(clean.Style.FontFamily)
	clean.Style.FontWeight = v.SanitizeString(clean.Style.FontWeight)
	return clean, nil
}

// SanitizeString: strips all markup from a string field
func (v *Validator) SanitizeString(s string) string {
	if s == "" {
		return s
	}
	return v.sanitizer.Sanitize(s)
}

// formatValidationErrors converts validator errors to a user-friendly error message
func formatValidationErrors(errs validator.ValidationErrors) error {
	return fmt.Errorf("validation failed: %s", formatSingleError(errs[0])) // first error only
}

// formatSingleError formats a single validation error with common cases
func formatSingleError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "min", "max":
		return fmt.Sprintf("'%s' value out of allowed range", field)
	case "kind":
		return "unknown object kind"
	case "excluded":
		return fmt.Sprintf("'%s' is not allowed for this kind", field)
	default:
		return fmt.Sprintf("'%s' is invalid", field)
	}
}
