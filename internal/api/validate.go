package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/boring-ventures/vivir-feliz/internal/appointment"
)

const maxBodyBytes = 1 << 20

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterValidation("category", validateCategory)
	validate.RegisterValidation("request_kind", validateRequestKind)
	validate.RegisterValidation("clock", validateClock)
	validate.RegisterValidation("isodate", validateISODate)
}

func validateCategory(fl validator.FieldLevel) bool {
	return appointment.Category(fl.Field().String()).Valid()
}

func validateRequestKind(fl validator.FieldLevel) bool {
	return appointment.RequestKind(fl.Field().String()).Valid()
}

// validateClock accepts a slot start, so 24:00 is rejected.
func validateClock(fl validator.FieldLevel) bool {
	c, err := appointment.ParseClock(fl.Field().String())
	return err == nil && c < appointment.MinutesPerDay
}

func validateISODate(fl validator.FieldLevel) bool {
	_, err := appointment.ParseDate(fl.Field().String())
	return err == nil
}

var validationMessages = map[string]string{
	"required":     "is required",
	"uuid":         "must be a valid UUID",
	"category":     "must be one of CONSULTATION, INTERVIEW, SESSION, FOLLOW_UP",
	"request_kind": "must be consultation or interview",
	"clock":        "must be a start time in HH:MM format",
	"isodate":      "must be a date in YYYY-MM-DD format",
}

func formatFirstValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "request is invalid"
	}
	first := verrs[0]
	msg, ok := validationMessages[first.Tag()]
	if !ok {
		msg = "is invalid"
	}
	return first.Field() + " " + msg
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields,
// and validates it.
func decodeJSON(r *http.Request, w http.ResponseWriter, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("could not parse JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must contain a single JSON object")
	}

	if err := validate.Struct(dst); err != nil {
		return errors.New(formatFirstValidationError(err))
	}
	return nil
}
