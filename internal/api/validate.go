package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"triad/internal/services"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so errors match what the client sent.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks a request struct against its validate tags. The first
// failing field becomes a validation error carrying the field path and rule.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return services.Wrap(services.KindValidation, "", "validate request", err.Error(), err)
	}
	first := fieldErrs[0]
	field := trimNamespace(first.Namespace())
	return services.WithFields(
		services.Wrap(services.KindValidation, "", "validate request", describeRule(field, first), nil),
		map[string]any{"field": field, "rule": first.Tag()},
	)
}

// DecodeJSON reads at most limit bytes of JSON into dst and validates it.
// An empty body is accepted when allowEmpty is set.
func DecodeJSON(r io.Reader, dst any, limit int64, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return Validate(dst)
		}
		return services.Wrap(services.KindValidation, "", "decode request", "malformed JSON body", err)
	}
	return Validate(dst)
}

// trimNamespace drops the root struct name: "InitiateMergeRequest.statements[1].size"
// becomes "statements[1].size".
func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describeRule(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "len":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain exactly %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "hexadecimal":
		return field + " must be hexadecimal"
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}
