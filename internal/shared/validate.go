package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Fractional digits stored by the slip line columns.
const (
	QuantityPlaces int32 = 4
	PricePlaces    int32 = 2
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct runs struct tag validation and maps the first failure to a ValidationError.
func ValidateStruct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return Invalid(strings.ToLower(fe.Field()), fe.Tag())
	}
	return Invalid("", err.Error())
}

// CheckPlaces rejects v when it carries more fractional digits than places.
// Trailing zeros do not count.
func CheckPlaces(field string, v decimal.Decimal, places int32) error {
	if !v.Equal(v.Truncate(places)) {
		return Invalid(field, fmt.Sprintf("at most %d decimal places", places))
	}
	return nil
}
