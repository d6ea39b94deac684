package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/altrii/altrii/internal/blocking"
	appErrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/response"
	appValidator "github.com/altrii/altrii/pkg/validator"
)

func init() {
	// "domain" accepts anything the normaliser can reduce to a bare host.
	if err := appValidator.RegisterValidation("domain", func(fl validator.FieldLevel) bool {
		_, ok := blocking.Normalize(fl.Field().String())
		return ok
	}); err != nil {
		panic(fmt.Sprintf("register domain validation: %v", err))
	}
}

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, bindError(err))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, validationError(err))
		return false
	}

	return true
}

// bindError keeps a well-formed body with a wrongly typed field on the validation path,
// so the client learns which field to fix.
func bindError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field == "" {
		return appErrors.NewBadRequest("invalid JSON payload")
	}

	msg := "must be a " + typeErr.Type.Kind().String()
	switch typeErr.Type.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		msg = "must be a positive whole number"
	case reflect.String:
		msg = "must be a string"
	case reflect.Bool:
		msg = "must be true or false"
	case reflect.Slice:
		msg = "must be a list"
	}
	return appErrors.NewValidation(map[string]string{typeErr.Field: msg}).
		WithMessage(prettifyFieldName(typeErr.Field) + " " + msg)
}

func validationError(err error) error {
	var ve appValidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return appErrors.NewBadRequest("invalid request payload")
	}

	fields := make(map[string]string, len(ve))
	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		msg := describeFailure(failure)
		fields[failure.Field] = msg
		messages = append(messages, prettifyFieldName(failure.Field)+" "+msg)
	}
	return appErrors.NewValidation(fields).WithMessage(strings.Join(messages, "; "))
}

func describeFailure(failure appValidator.ValidationError) string {
	switch failure.Tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", failure.Param)
	case "max":
		return fmt.Sprintf("must be at most %s characters", failure.Param)
	case "gt":
		return fmt.Sprintf("must be greater than %s", failure.Param)
	case "domain":
		return "must be a domain name"
	default:
		if failure.Param != "" {
			return fmt.Sprintf("failed validation: %s=%s", failure.Tag, failure.Param)
		}
		return "failed validation: " + failure.Tag
	}
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}
