package queue

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// ErrValidation is wrapped by every submission rejected before enqueue.
var ErrValidation = errors.New("validation failed")

// ValidationError lists field-level problems of a submission.
type ValidationError struct {
	Fields map[string]string // json field name -> message
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, e.Fields[name])
	}

	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, " "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var messages = map[string]string{
	"required":     "The field '%s' is required.",
	"url":          "The field '%s' must be a valid URL.",
	"min":          "The field '%s' must be at least %s.",
	"max":          "The field '%s' must be at most %s.",
	"gte":          "The field '%s' must be greater than or equal to %s.",
	"lte":          "The field '%s' must be less than or equal to %s.",
	"oneof":        "The field '%s' must be one of [%s].",
	"aspect_ratio": "The field '%s' must be one of [1:1 16:9 9:16 4:3 3:4].",
}

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("aspect_ratio", func(fl validator.FieldLevel) bool {
		return model.AspectRatio(fl.Field().String()).Valid()
	})

	return v
}

// fieldErrors translates validator output into friendly per-field messages.
func fieldErrors(err error, prefix string) map[string]string {
	out := make(map[string]string)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out[prefix] = err.Error()
		return out
	}

	for _, e := range verrs {
		name := e.Field()
		if prefix != "" {
			name = prefix + "." + name
		}
		out[name] = message(name, e)
	}

	return out
}

func message(field string, e validator.FieldError) string {
	msg, ok := messages[e.Tag()]
	if !ok {
		return fmt.Sprintf("Field '%s' is invalid: %s", field, e.Tag())
	}
	if strings.Count(msg, "%s") == 2 {
		return fmt.Sprintf(msg, field, e.Param())
	}
	return fmt.Sprintf(msg, field)
}
