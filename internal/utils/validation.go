package utils

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance reads the same `binding` tags gin binds with.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.SetTagName("binding")
	})
	return validate
}

// Validate performs validation on a struct.
func Validate(s interface{}) error {
	return validatorInstance().Struct(s)
}

// FormatValidationError formats validation errors into a readable string.
func FormatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param()))
		case "min", "max":
			messages = append(messages, fmt.Sprintf("%s must satisfy %s=%s", e.Field(), e.Tag(), e.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", e.Field(), e.Tag()))
		}
	}
	return strings.Join(messages, ", ")
}

// BindAndValidate binds the request body to a struct and validates it.
// If validation fails, it sends a BadRequest response and returns false.
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			BadRequest(c, "Validation failed: "+FormatValidationError(err))
			return false
		}
		BadRequest(c, "Invalid request payload: "+err.Error())
		return false
	}
	if err := Validate(obj); err != nil {
		BadRequest(c, "Validation failed: "+FormatValidationError(err))
		return false
	}
	return true
}

// BindOptional is BindAndValidate for endpoints whose body may be omitted.
func BindOptional(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		if err := Validate(obj); err != nil {
			BadRequest(c, "Validation failed: "+FormatValidationError(err))
			return false
		}
		return true
	}
	return BindAndValidate(c, obj)
}
