package api

import (
	"fmt"

	"rental-marketplace/internal/models"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var customValidations = map[string]validator.Func{
	"payment_method": func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case models.PaymentMethodCard, models.PaymentMethodCash, models.PaymentMethodBankTransfer:
			return true
		}
		return false
	},
	"rental_condition": func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case models.ConditionGood, models.ConditionDamaged, models.ConditionMissingParts:
			return true
		}
		return false
	},
}

// RegisterValidators adds the domain tags to gin's validator. It must run
// before the first request is bound.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	for tag, fn := range customValidations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}
