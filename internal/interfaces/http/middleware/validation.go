package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/konozy/ordersync/internal/interfaces/http/dto"
)

// SetupValidator makes validation errors report JSON field names
func SetupValidator() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// HandleBindError writes a 400 describing why the request body was rejected
func HandleBindError(c *gin.Context, err error) {
	requestID := GetRequestID(c)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]dto.ValidationDetail, 0, len(validationErrors))
		for _, e := range validationErrors {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: validationMessage(e),
			})
		}
		c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse("Request validation failed", requestID, details))
		return
	}

	var timeErr *time.ParseError
	if errors.As(err, &timeErr) {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeValidation, "Dates must be RFC3339 timestamps", requestID))
		return
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		c.JSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeTooLarge, "Request body exceeds maximum allowed size", requestID))
		return
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeInvalidJSON, "Malformed JSON body", requestID))
		return
	}

	c.JSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(dto.ErrCodeBadRequest, err.Error(), requestID))
}

// validationMessage returns a human-readable validation message
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "gtefield":
		return "Must not precede " + e.Param()
	case "oneof":
		return "Must be one of: " + e.Param()
	case "uuid":
		return "Invalid UUID format"
	default:
		return "Invalid value"
	}
}
