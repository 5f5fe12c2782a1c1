// Package validate checks create and update requests for the content types
// and turns them into typed change sets. Failures are reported per field with
// human readable messages, before any side effect takes place.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Mode selects create semantics (required fields must be present) or update
// semantics (fields are checked only when present).
type Mode int

const (
	Create Mode = iota
	Update
)

func (m Mode) String() string {
	if m == Update {
		return "update"
	}
	return "create"
}

// FieldErrors maps a request field to its failure messages.
type FieldErrors map[string][]string

// Add records msg for field.
func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Error implements error.
func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(f[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Engine runs the field rules. It is safe for concurrent use.
type Engine struct {
	v *validator.Validate
}

// New builds an Engine with the custom month, clocktime and maxbytes rules
// registered.
func New() *Engine {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("month", func(fl validator.FieldLevel) bool {
		_, ok := canonicalMonth(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("clocktime", func(fl validator.FieldLevel) bool {
		_, ok := canonicalTime(fl.Field().String())
		return ok
	})
	// bcrypt only reads the first 72 bytes and newer versions refuse more.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	return &Engine{v: v}
}

// rule is the validator tag list applied to one optional string field.
// An empty update tag reuses the create tag.
type rule struct {
	name   string
	value  *string
	create string
	update string
}

func (r rule) tag(mode Mode) string {
	if mode == Update && r.update != "" {
		return r.update
	}
	return r.create
}

// check trims the field and runs its rule. It returns the trimmed value, or
// nil when the field is absent or failed.
func (e *Engine) check(errs FieldErrors, mode Mode, r rule) *string {
	tag := r.tag(mode)
	if r.value == nil {
		if mode == Create && strings.HasPrefix(tag, "required") {
			errs.Add(r.name, message(r.name, "required", "", reflect.String))
		}
		return nil
	}
	v := strings.TrimSpace(*r.value)
	if err := e.v.Var(v, tag); err != nil {
		e.collect(errs, r.name, err)
		return nil
	}
	return &v
}

func (e *Engine) collect(errs FieldErrors, field string, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs.Add(field, fmt.Sprintf("The %s field is invalid.", label(field)))
		return
	}
	for _, fe := range verrs {
		name := field
		if name == "" {
			name = fe.Field()
		}
		if fe.Tag() == "eqfield" {
			// A failed confirmation belongs to the confirmed field.
			name = strings.TrimSuffix(name, "_confirmation")
		}
		errs.Add(name, message(name, fe.Tag(), fe.Param(), fe.Kind()))
	}
}

// message renders the text for a failed tag.
func message(field, tag, param string, kind reflect.Kind) string {
	l := label(field)
	numeric := kind >= reflect.Int && kind <= reflect.Float64
	switch tag {
	case "required":
		return fmt.Sprintf("The %s field is required.", l)
	case "min":
		if numeric {
			return fmt.Sprintf("The %s field must be at least %s.", l, param)
		}
		return fmt.Sprintf("The %s field must be at least %s characters.", l, param)
	case "max":
		if numeric {
			return fmt.Sprintf("The %s field must not be greater than %s.", l, param)
		}
		return fmt.Sprintf("The %s field must not be greater than %s characters.", l, param)
	case "maxbytes":
		return fmt.Sprintf("The %s field must not be greater than %s bytes.", l, param)
	case "number":
		return fmt.Sprintf("The %s field must be an integer.", l)
	case "datetime":
		return fmt.Sprintf("The %s field must match the format Y-m-d.", l)
	case "http_url":
		return fmt.Sprintf("The %s field must be a valid URL.", l)
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", l)
	case "eqfield":
		return fmt.Sprintf("The %s field confirmation does not match.", l)
	case "boolean":
		return fmt.Sprintf("The %s field must be true or false.", l)
	default:
		return fmt.Sprintf("The %s field format is invalid.", l)
	}
}

var wordBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// label turns videoUrl or password_confirmation into words.
func label(field string) string {
	s := wordBoundary.ReplaceAllString(field, "$1 $2")
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

func result[C any](c C, errs FieldErrors) (C, error) {
	if len(errs) > 0 {
		var zero C
		return zero, errs
	}
	return c, nil
}
