package timeoff

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/vacation-ledger/generic"
)

// newValidator registers the ledger's custom tags and reports fields by
// their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("taxid", func(fl validator.FieldLevel) bool {
		return generic.ValidTaxID(fl.Field().String())
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return generic.Role(fl.Field().String()).Valid()
	})

	return v
}

// validateStruct runs the struct tags and converts failures into a
// *generic.ValidationError.
func (l *Ledger) validateStruct(s any) error {
	err := l.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", generic.ErrValidation, err)
	}

	out := &generic.ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, generic.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "taxid":
		return "must be exactly 10 digits"
	case "role":
		return "must be one of Employee, Manager, HR Manager"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
