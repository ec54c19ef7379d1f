package httpapi

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldLabels gives the caller-facing name of each JSON field.
var fieldLabels = map[string]string{
	"email":       "Email",
	"password":    "Password",
	"oldPassword": "Old password",
	"newPassword": "New password",
	"token":       "Token",

	"registrationNumber": "Registration number",
	"name":               "Name",
	"website":            "Website",
	"address":            "Address",
	"phone":              "Phone",
	"establishedYear":    "Established year",
}

// validateStruct returns one message per failed constraint, or nil.
func validateStruct(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		label, ok := fieldLabels[fe.Field()]
		if !ok {
			label = fe.Field()
		}
		switch fe.Tag() {
		case "required":
			out = append(out, label+" is required")
		case "email":
			out = append(out, label+" must be a valid email address")
		case "min":
			if isNumeric(fe.Kind()) {
				out = append(out, label+" must be "+fe.Param()+" or later")
				break
			}
			out = append(out, label+" must be at least "+fe.Param()+" characters long")
		case "max":
			out = append(out, label+" must not exceed "+fe.Param()+" characters")
		default:
			out = append(out, label+" is invalid")
		}
	}
	return out
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}
