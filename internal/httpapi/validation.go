package httpapi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9\-]+$`)

// validateSKU implements the "skuformat" tag: letters, digits, and
// hyphens only.
func validateSKU(fl validator.FieldLevel) bool {
	return skuPattern.MatchString(fl.Field().String())
}

// normalizeSKU strips surrounding whitespace and upper-cases a SKU so
// equality is byte-equality after normalization, regardless of how the
// caller cased it — every SKU lookup (body field or path param) goes
// through this before it reaches the service layer.
func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

type fieldError struct {
	field   string
	message string
}

// validationErrors flattens a validator error into field/message pairs
// keyed by the struct's JSON tag name rather than its Go field name.
func validationErrors(err error) []fieldError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []fieldError{{field: "_", message: err.Error()}}
	}

	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{
			field:   strings.ToLower(fe.Field()),
			message: fmt.Sprintf("failed on '%s'", fe.Tag()),
		})
	}
	return out
}
