package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/mmsalmanfaris/Smart-Parking-System/pkg/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

// clockSkewTolerance forgives small client/server clock drift on the
// from-date-in-the-past check.
const clockSkewTolerance = time.Minute

// BookingValidator validates booking requests before any storage work.
type BookingValidator struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewBookingValidator() *BookingValidator {
	validate := validator.New()

	// Report fields by their json names so error details match the wire
	// format clients sent.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	return &BookingValidator{
		validate: validate,
		now:      time.Now,
	}
}

// ValidateCreate checks a booking request structurally and temporally.
// Returned errors are AppErrors with field details.
func (v *BookingValidator) ValidateCreate(booking *model.Booking) error {
	if err := v.validate.Struct(booking); err != nil {
		return v.toValidationError(err)
	}

	now := v.now().UTC()
	if booking.FromDate.Before(now.Add(-clockSkewTolerance)) {
		return apperrors.Validation("Booking validation failed", map[string]any{
			"from_date": "must not be in the past",
		})
	}

	return nil
}

// ValidatePaymentUpdate checks the recorded payment outcome.
func (v *BookingValidator) ValidatePaymentUpdate(update *model.PaymentUpdate) error {
	if err := v.validate.Struct(update); err != nil {
		return v.toValidationError(err)
	}
	return nil
}

func (v *BookingValidator) toValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperrors.Validation("Booking validation failed", nil)
	}

	details := make(map[string]any, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details[fieldErr.Field()] = describeRule(fieldErr)
	}

	return apperrors.Validation("Booking validation failed", details)
}

func describeRule(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "gtfield":
		return fmt.Sprintf("must be after %s", toSnakeCase(fieldErr.Param()))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fieldErr.Param())
	case "mongodb":
		return "must be a valid ObjectID"
	default:
		return fmt.Sprintf("failed validation rule: %s", fieldErr.Tag())
	}
}

func toSnakeCase(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
