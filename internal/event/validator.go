package event

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// Validation limits
const (
	MaxPoints      = 10000
	MaxCoordinate  = 1000000
	MinCoordinate  = -1000000
	MaxBrushSize   = 1000
	MaxColorLength = 50
	MaxToolLength  = 64
	MaxIDLength    = 128
)

// Validator: validation and sanitization of draw events
type Validator struct {
	validate  *validator.Validate
	sanitizer *bluemonday.Policy
	maxPoints int
}

// NewValidator: maxPoints <= 0 falls back to MaxPoints
func NewValidator(maxPoints int) *Validator {
	if maxPoints <= 0 || maxPoints > MaxPoints {
		maxPoints = MaxPoints
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateShape, DrawEvent{})

	return &Validator{
		validate:  v,
		sanitizer: bluemonday.StrictPolicy(),
		maxPoints: maxPoints,
	}
}

// ValidateAndSanitize: checks ev against the schema and returns a sanitized copy.
// Every failure wraps ErrMalformedEvent.
func (v *Validator) ValidateAndSanitize(ev DrawEvent) (DrawEvent, error) {
	if !ev.Kind.Valid() {
		return DrawEvent{}, fmt.Errorf("%w: invalid kind", ErrMalformedEvent)
	}

	// clear carries no geometry
	if ev.Kind == KindClear {
		ev.Points = nil
	}

	if len(ev.Points) > v.maxPoints {
		return DrawEvent{}, fmt.Errorf("%w: %d points (max %d)", ErrMalformedEvent, len(ev.Points), v.maxPoints)
	}

	if err := v.validate.Struct(ev); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return DrawEvent{}, formatValidationErrors(validationErrors)
		}
		return DrawEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := ev.Clone()
	out.Tool = v.sanitizer.Sanitize(ev.Tool)
	out.Color = v.sanitizer.Sanitize(ev.Color)
	return out, nil
}

// validateShape: geometry rules that depend on kind
func validateShape(sl validator.StructLevel) {
	ev := sl.Current().Interface().(DrawEvent)
	if ev.Kind == KindClear {
		return
	}
	if len(ev.Points) == 0 {
		sl.ReportError(ev.Points, "Points", "points", "required", "")
	}
	if ev.BrushSize <= 0 {
		sl.ReportError(ev.BrushSize, "BrushSize", "brushSize", "gt", "0")
	}
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, formatSingleError(errs[0]))
}

func formatSingleError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "min", "max", "gt":
		return fmt.Sprintf("'%s' value out of allowed range", field)
	default:
		return fmt.Sprintf("'%s' is invalid", field)
	}
}
